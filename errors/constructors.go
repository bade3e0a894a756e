package errors

import "fmt"

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *BridgeError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *BridgeError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// ConnectionFailed creates a bridge connection failure error
func ConnectionFailed(endpoint string, err error) *BridgeError {
	return Wrap(err, ErrCodeConnectionFailed,
		fmt.Sprintf("failed to connect to bridge target at %s", endpoint)).
		WithDetail("endpoint", endpoint)
}

// LibraryInvalid creates an error for a library file that failed to parse or validate
func LibraryInvalid(path string, reason string) *BridgeError {
	return New(ErrCodeLibraryInvalid,
		fmt.Sprintf("library file %s is invalid: %s", path, reason)).
		WithDetail("path", path)
}

// DuplicateLibraryID creates an error for a second file claiming an already-used library id
func DuplicateLibraryID(id, path, existingPath string) *BridgeError {
	return New(ErrCodeDuplicateLibraryID,
		fmt.Sprintf("library id '%s' in %s is already used by %s", id, path, existingPath)).
		WithDetail("id", id).
		WithDetail("path", path).
		WithDetail("existingPath", existingPath)
}

// InvalidItemID creates an error for an item id containing disallowed characters
func InvalidItemID(id string) *BridgeError {
	return New(ErrCodeInvalidItemID,
		fmt.Sprintf("item id '%s' contains disallowed characters", id)).
		WithDetail("id", id)
}

// InvalidItemData creates a descriptive item data validation failure
func InvalidItemData(id string, reason string) *BridgeError {
	return New(ErrCodeInvalidItemData,
		fmt.Sprintf("item '%s' has invalid data: %s", id, reason)).
		WithDetail("id", id)
}

// SaveFailed creates a filesystem save failure error carrying the underlying error text
func SaveFailed(path string, err error) *BridgeError {
	return Wrap(err, ErrCodeSaveFailed,
		fmt.Sprintf("failed to save library file %s: %v", path, err)).
		WithDetail("path", path)
}

// DaemonNotRunning creates an error for commands that need the daemon
func DaemonNotRunning(socket string) *BridgeError {
	return New(ErrCodeDaemonNotRunning,
		fmt.Sprintf("modlink daemon is not running (socket: %s)", socket)).
		WithDetail("socket", socket)
}
