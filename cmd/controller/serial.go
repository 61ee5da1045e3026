package main

import (
	"fmt"
	"time"

	"github.com/tarm/serial"

	"pincab.dev/proto"
)

// serialHID carries the command sideband over a bench UART: host
// messages and device reports travel as SLIP frames, told apart by
// direction and length.
type serialHID struct {
	port    *serial.Port
	dec     proto.FrameDecoder
	pending [][proto.MsgLen]byte
	rbuf    [64]byte
	up      bool
}

func openSerialHID(dev string) (*serialHID, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        dev,
		Baud:        115200,
		ReadTimeout: time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: %w", err)
	}
	return &serialHID{port: port, up: true}, nil
}

func (s *serialHID) ReadMsg(msg *[proto.MsgLen]byte) bool {
	if len(s.pending) == 0 {
		n, _ := s.port.Read(s.rbuf[:])
		if n > 0 {
			for _, f := range s.dec.Feed(s.rbuf[:n]) {
				if len(f) == proto.MsgLen {
					var m [proto.MsgLen]byte
					copy(m[:], f)
					s.pending = append(s.pending, m)
				}
			}
		}
	}
	if len(s.pending) == 0 {
		return false
	}
	*msg = s.pending[0]
	s.pending = s.pending[1:]
	return true
}

func (s *serialHID) send(payload []byte) bool {
	_, err := s.port.Write(proto.FrameEncode(payload))
	s.up = err == nil
	return s.up
}

func (s *serialHID) Send(r [proto.ReportLen]byte) bool {
	return s.send(r[:])
}

func (s *serialHID) SendKeyboard(r [8]byte) bool {
	return s.send(r[:])
}

func (s *serialHID) SendMedia(keys byte) bool {
	return s.send([]byte{keys})
}

func (s *serialHID) Connected() bool {
	return s.up
}
