package hl7

import (
	"bufio"
	"bytes"
	"fmt"
)

const (
	// MLLP frame characters
	StartBlock     = 0x0B
	EndBlock       = 0x1C
	CarriageReturn = 0x0D
)

// WrapMLLP adds the MLLP frame to message unless it is already framed.
func WrapMLLP(message []byte) []byte {
	if len(message) == 0 || message[0] == StartBlock {
		return message
	}

	framed := make([]byte, 0, len(message)+3)
	framed = append(framed, StartBlock)
	framed = append(framed, message...)
	return append(framed, EndBlock, CarriageReturn)
}

// UnwrapMLLP strips MLLP frame characters. Unframed input is returned as is.
func UnwrapMLLP(message []byte) []byte {
	message = bytes.TrimPrefix(message, []byte{StartBlock})
	message = bytes.TrimSuffix(message, []byte{CarriageReturn})
	message = bytes.TrimSuffix(message, []byte{EndBlock})
	return message
}

// ReadMLLP reads one framed message from r and returns its payload.
// Bytes before the start block are skipped.
func ReadMLLP(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == StartBlock {
			break
		}
	}

	var buffer bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		if b == EndBlock {
			cr, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			if cr != CarriageReturn {
				return nil, fmt.Errorf("mllp: expected CR after end block, got %02X", cr)
			}
			break
		}

		buffer.WriteByte(b)
	}

	return buffer.Bytes(), nil
}
