package util

// WaitError waits for either an error on the error channel or for done to be
// closed. It returns the error, or nil if done closed first.
//
// An error that is already available when done closes is still returned, so a
// shutdown racing with a failure does not hide the failure.
func WaitError(errChan <-chan error, done <-chan struct{}) error {
	select {
	case err := <-errChan:
		return err
	case <-done:
		select {
		case err := <-errChan:
			return err
		default:
		}
		return nil
	}
}
