package launcher

import "net"

type loopbackListener struct {
	net.Listener
	port int
}

func newLoopbackListener() (*loopbackListener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	return &loopbackListener{Listener: ln, port: ln.Addr().(*net.TCPAddr).Port}, nil
}
