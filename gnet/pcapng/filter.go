package pcapng

import (
	"errors"
	"io"

	"golang.org/x/net/bpf"
)

// filterKey 标识某一节内的接口，包块中的接口编号只在节内唯一。
type filterKey struct {
	section int
	id      uint32
}

// FilterCopy 读取 pcapng 数据，按 BPF 过滤包后写入新的 pcapng，返回保留的包数。
// 接口在首次有包保留时才写出，编号按写出顺序重新分配。
func FilterCopy(r io.Reader, w io.Writer, prog []bpf.Instruction) (int, error) {
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return 0, err
	}

	reader := NewReader(r)
	writer, err := NewWriter(w)
	if err != nil {
		return 0, err
	}
	defer writer.Flush()

	idMap := make(map[filterKey]uint32)
	count := 0
	section := 0
	sectionDone := false

	for {
		block, err := reader.NextBlock()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, err
		}

		switch b := block.(type) {
		case *SectionHeaderBlock:
			section++
			if sectionDone {
				continue
			}
			hw, _ := OptionString(b.Options, SHBHardware)
			osName, _ := OptionString(b.Options, SHBOS)
			app, _ := OptionString(b.Options, SHBUserAppl)
			if err := writer.WriteSectionHeader(hw, osName, app); err != nil {
				return count, err
			}
			sectionDone = true
			continue
		case Packet:
			keep, err := vm.Run(b.Payload())
			if err != nil {
				return count, err
			}
			if keep == 0 {
				continue
			}

			key := filterKey{section: section, id: b.Interface()}
			newID, ok := idMap[key]
			if !ok {
				linkType, res := LinkTypeEthernet, ResolutionMicroseconds
				var snapLen uint32
				if idb, ifRes, found := reader.SectionInterface(b.Interface()); found {
					linkType, res, snapLen = idb.LinkType, ifRes, idb.SnapLen
				}
				newID, err = writer.WriteInterfaceDescription(linkType, res, WithSnapLen(snapLen))
				if err != nil {
					return count, err
				}
				idMap[key] = newID
			}

			ts := b.Nanoseconds()
			if ts == UnknownTimestamp {
				ts = 0
			}
			if err := writer.WriteEnhancedPacket(newID, ts, b.Payload()); err != nil {
				return count, err
			}
			count++
		}
	}
}
