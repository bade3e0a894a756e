package cli

import (
	"fmt"
	"os"

	"github.com/modlink/core/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
	}
}

// Handle provides user-friendly error messages based on error type
func (h *ErrorHandler) Handle(err error) error {
	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(os.Stderr, "❌ Configuration not found. Create a modlink.yml in your project root.\n")
		return err

	case errors.ErrCodeDaemonNotRunning:
		fmt.Fprintf(os.Stderr, "❌ The modlink daemon is not running.\n")
		fmt.Fprintf(os.Stderr, "Start it with 'modlink daemon start'.\n")
		return err

	case errors.ErrCodeConnectionFailed:
		fmt.Fprintf(os.Stderr, "❌ Could not reach the bridge target.\n")
		fmt.Fprintf(os.Stderr, "Make sure the game mod is running and the endpoint is correct.\n")
		return err

	case errors.ErrCodeDuplicateLibraryID:
		if bridgeErr, ok := err.(*errors.BridgeError); ok {
			fmt.Fprintf(os.Stderr, "❌ Duplicate library id '%v'\n", bridgeErr.Details["id"])
			fmt.Fprintf(os.Stderr, "The earlier file stays loaded; rename one of the libraries.\n")
		}
		return err

	case errors.ErrCodeLibraryInvalid:
		fmt.Fprintf(os.Stderr, "❌ %s\n", err.Error())
		fmt.Fprintf(os.Stderr, "The file is ignored until it validates.\n")
		return err

	case errors.ErrCodeInvalidItemID, errors.ErrCodeInvalidItemData:
		fmt.Fprintf(os.Stderr, "❌ %s\n", err.Error())
		return err

	default:
		if h.Verbose {
			fmt.Fprintf(os.Stderr, "❌ Error: %+v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "❌ Error: %v\n", err)
		}
		return err
	}
}
