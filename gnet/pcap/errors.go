package pcap

import (
	"errors"

	"github.com/sofiworker/gpcap/gnet/wire"
)

var (
	ErrInvalidMagicNumber = errors.New("pcap: invalid magic number")

	ErrTruncatedHeader  = wire.ErrTruncatedHeader
	ErrTruncatedPayload = wire.ErrTruncatedPayload
)
