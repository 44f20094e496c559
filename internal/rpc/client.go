package rpc

import (
	"bufio"
	"encoding/gob"
	"net"
	"time"

	"github.com/corralhq/corral/internal/corerr"
)

// dialTimeout bounds how long Call waits to connect to the socket.
const dialTimeout = 5 * time.Second

// Call opens one connection to the socket at path, sends req, and
// decodes a single Response. Each call is its own connection, matching
// the server's one-request-per-connection framing.
func Call(path string, req Request) (Response, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return Response{}, corerr.Wrap(corerr.IO, err, "dial %s", path)
	}
	defer conn.Close()

	enc := gob.NewEncoder(conn)
	if err := enc.Encode(req); err != nil {
		return Response{}, corerr.Wrap(corerr.Protocol, err, "encode request")
	}

	r := bufio.NewReader(conn)
	dec := gob.NewDecoder(r)
	var resp Response
	if err := dec.Decode(&resp); err != nil {
		return Response{}, corerr.Wrap(corerr.Protocol, err, "decode response")
	}

	if err := resync(r); err != nil {
		return Response{}, corerr.Wrap(corerr.Protocol, err, "resync after response")
	}

	if !resp.OK {
		return resp, responseErr(resp.Err)
	}
	return resp, nil
}

// resync reads and discards bytes until it sees resyncByte, so a decoder
// that stopped mid-stream (extra trailing bytes gob didn't consume)
// doesn't leave the connection in a state the caller has to reason
// about. conn is already being closed by the caller either way; this
// only exists to make that explicit and catch framing bugs in tests.
func resync(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil
		}
		if b == resyncByte {
			return nil
		}
	}
}

func responseErr(e *ErrorWire) error {
	if e == nil {
		return corerr.New(corerr.IO, "request failed with no error detail")
	}
	err := corerr.New(corerr.Kind(e.Kind), "%s", e.Message)
	err.ExitCode = e.ExitCode
	return err
}
