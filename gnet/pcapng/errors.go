package pcapng

import (
	"errors"

	"github.com/sofiworker/gpcap/gnet/wire"
)

var (
	ErrCorruptSectionHeader  = errors.New("pcapng: invalid byte order magic, corrupt section header")
	ErrUnknownInterface      = errors.New("pcapng: unknown interface")
	ErrNoSection             = errors.New("pcapng: section header block must be written first")
	ErrSectionAlreadyWritten = errors.New("pcapng: section header block already written")
	ErrOptionTooLong         = errors.New("pcapng: option value longer than 65535 bytes")
	ErrByteOrderMismatch     = errors.New("pcapng: block body cannot be converted to another byte order")

	ErrTruncatedHeader  = wire.ErrTruncatedHeader
	ErrTruncatedPayload = wire.ErrTruncatedPayload
	ErrTruncatedOptions = wire.ErrTruncatedOptions
)
