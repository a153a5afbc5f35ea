package controlsock

import "golang.org/x/sys/unix"

// rawSocketpair opens a connected AF_UNIX/SOCK_STREAM pair without
// SOCK_CLOEXEC, so CLOEXEC is set on neither end and the child-side fd
// survives exec into the launched task.
func rawSocketpair() ([2]int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return [2]int{}, err
	}
	return [2]int{fds[0], fds[1]}, nil
}
