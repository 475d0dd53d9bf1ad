//go:build !linux

package notify

func newDesktop(string) (Notifier, error) {
	return nil, ErrUnsupported
}
