package pcapng

import (
	"fmt"

	"github.com/google/gopacket/layers"
)

type BlockType uint32

const (
	InterfaceDescriptionBlockType BlockType = 0x00000001
	PacketBlockType               BlockType = 0x00000002
	SimplePacketBlockType         BlockType = 0x00000003
	NameResolutionBlockType       BlockType = 0x00000004
	InterfaceStatisticsBlockType  BlockType = 0x00000005
	EnhancedPacketBlockType       BlockType = 0x00000006
	IRIGTimestampBlockType        BlockType = 0x00000007
	ARINC429BlockType             BlockType = 0x00000008
	SystemdJournalBlockType       BlockType = 0x00000009
	DecryptionSecretsBlockType    BlockType = 0x0000000A
	CustomCopyBlockType           BlockType = 0x00000BAD
	CustomNoCopyBlockType         BlockType = 0x40000BAD
	SectionHeaderBlockType        BlockType = 0x0A0D0D0A
)

var blockTypeNames = map[BlockType]string{
	InterfaceDescriptionBlockType: "InterfaceDescription",
	PacketBlockType:               "Packet",
	SimplePacketBlockType:         "SimplePacket",
	NameResolutionBlockType:       "NameResolution",
	InterfaceStatisticsBlockType:  "InterfaceStatistics",
	EnhancedPacketBlockType:       "EnhancedPacket",
	IRIGTimestampBlockType:        "IRIGTimestamp",
	ARINC429BlockType:             "ARINC429",
	SystemdJournalBlockType:       "SystemdJournalExport",
	DecryptionSecretsBlockType:    "DecryptionSecrets",
	CustomCopyBlockType:           "CustomCopyable",
	CustomNoCopyBlockType:         "CustomNotCopyable",
	SectionHeaderBlockType:        "SectionHeader",
}

func (t BlockType) String() string {
	if name, ok := blockTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%08x)", uint32(t))
}

// 以大端方式读出的字节序魔数。
const (
	ByteOrderMagic        uint32 = 0x1A2B3C4D
	ByteOrderMagicSwapped uint32 = 0x4D3C2B1A
)

const (
	VersionMajor uint16 = 1
	VersionMinor uint16 = 0
)

// 时间戳分辨率指数（10 的负幂）。
const (
	ResolutionMicroseconds uint8 = 6
	ResolutionNanoseconds  uint8 = 9
)

// LinkType 是接口的链路层类型编号。
type LinkType uint16

const (
	LinkTypeNull       LinkType = 0
	LinkTypeEthernet   LinkType = 1
	LinkTypeRaw        LinkType = 101
	LinkTypeIEEE80211  LinkType = 105
	LinkTypeLinuxSLL   LinkType = 113
	LinkTypeBACnetMSTP LinkType = 165
	LinkTypeIEEE802154 LinkType = 195
	LinkTypeLinuxSLL2  LinkType = 276
)

func (l LinkType) String() string {
	switch l {
	case LinkTypeBACnetMSTP:
		return "BACnetMSTP"
	case LinkTypeIEEE802154:
		return "IEEE802_15_4"
	case LinkTypeLinuxSLL2:
		return "LinuxSLL2"
	}
	if l <= 0xff {
		return layers.LinkType(l).String()
	}
	return fmt.Sprintf("LinkType(%d)", uint16(l))
}

// Decoder 返回 gopacket 中对应的链路层解码器，编号超出范围时 ok 为 false。
func (l LinkType) Decoder() (layers.LinkType, bool) {
	if l > 0xff {
		return 0, false
	}
	return layers.LinkType(l), true
}

// 通用选项编号。
const (
	OptEndOfOpt            uint16 = 0
	OptComment             uint16 = 1
	OptCustomCopyASCII     uint16 = 2988
	OptCustomCopyBinary    uint16 = 2989
	OptCustomNoCopyASCII   uint16 = 19372
	OptCustomNoCopyBinary  uint16 = 19373
	SHBHardware            uint16 = 2
	SHBOS                  uint16 = 3
	SHBUserAppl            uint16 = 4
	IFName                 uint16 = 2
	IFDescription          uint16 = 3
	IFIPv4Addr             uint16 = 4
	IFIPv6Addr             uint16 = 5
	IFMACAddr              uint16 = 6
	IFEUIAddr              uint16 = 7
	IFSpeed                uint16 = 8
	IFTsResol              uint16 = 9
	IFTzone                uint16 = 10
	IFFilter               uint16 = 11
	IFOS                   uint16 = 12
	IFFCSLen               uint16 = 13
	IFTsOffset             uint16 = 14
	IFHardware             uint16 = 15
	EPBFlags               uint16 = 2
	EPBHash                uint16 = 3
	EPBDropCount           uint16 = 4
	EPBPacketID            uint16 = 5
	EPBQueue               uint16 = 6
	EPBVerdict             uint16 = 7
	ISBStartTime           uint16 = 2
	ISBEndTime             uint16 = 3
	ISBIfRecv              uint16 = 4
	ISBIfDrop              uint16 = 5
	ISBFilterAccept        uint16 = 6
	ISBOSDrop              uint16 = 7
	ISBUsrDeliv            uint16 = 8
	VariableOptionLength          = -1
)

// OptionInfo 描述选项值的呈现方式，仅用于展示。
type OptionInfo struct {
	Name   string
	ASCII  bool
	Length int
}

type optionKey struct {
	block BlockType
	code  uint16
}

var globalOptions = map[uint16]OptionInfo{
	OptEndOfOpt:           {"opt_endofopt", false, 0},
	OptComment:            {"opt_comment", true, VariableOptionLength},
	OptCustomCopyASCII:    {"opt_custom_copy_ascii", true, VariableOptionLength},
	OptCustomCopyBinary:   {"opt_custom_copy_binary", false, VariableOptionLength},
	OptCustomNoCopyASCII:  {"opt_custom_nocopy_ascii", true, VariableOptionLength},
	OptCustomNoCopyBinary: {"opt_custom_nocopy_binary", false, VariableOptionLength},
}

var blockOptions = map[optionKey]OptionInfo{
	{SectionHeaderBlockType, SHBHardware}: {"shb_hardware", true, VariableOptionLength},
	{SectionHeaderBlockType, SHBOS}:       {"shb_os", true, VariableOptionLength},
	{SectionHeaderBlockType, SHBUserAppl}: {"shb_userappl", true, VariableOptionLength},

	{InterfaceDescriptionBlockType, IFName}:        {"if_name", true, VariableOptionLength},
	{InterfaceDescriptionBlockType, IFDescription}: {"if_description", true, VariableOptionLength},
	{InterfaceDescriptionBlockType, IFIPv4Addr}:    {"if_IPv4addr", false, 8},
	{InterfaceDescriptionBlockType, IFIPv6Addr}:    {"if_IPv6addr", false, 17},
	{InterfaceDescriptionBlockType, IFMACAddr}:     {"if_MACaddr", false, 6},
	{InterfaceDescriptionBlockType, IFEUIAddr}:     {"if_EUIaddr", false, 8},
	{InterfaceDescriptionBlockType, IFSpeed}:       {"if_speed", false, 8},
	{InterfaceDescriptionBlockType, IFTsResol}:     {"if_tsresol", false, 1},
	{InterfaceDescriptionBlockType, IFTzone}:       {"if_tzone", false, 4},
	{InterfaceDescriptionBlockType, IFFilter}:      {"if_filter", false, VariableOptionLength},
	{InterfaceDescriptionBlockType, IFOS}:          {"if_os", true, VariableOptionLength},
	{InterfaceDescriptionBlockType, IFFCSLen}:      {"if_fcslen", false, 1},
	{InterfaceDescriptionBlockType, IFTsOffset}:    {"if_tsoffset", false, 8},
	{InterfaceDescriptionBlockType, IFHardware}:    {"if_hardware", true, VariableOptionLength},

	{EnhancedPacketBlockType, EPBFlags}:     {"epb_flags", false, 4},
	{EnhancedPacketBlockType, EPBHash}:      {"epb_hash", false, VariableOptionLength},
	{EnhancedPacketBlockType, EPBDropCount}: {"epb_dropcount", false, 8},
	{EnhancedPacketBlockType, EPBPacketID}:  {"epb_packetid", false, 8},
	{EnhancedPacketBlockType, EPBQueue}:     {"epb_queue", false, 4},
	{EnhancedPacketBlockType, EPBVerdict}:   {"epb_verdict", false, VariableOptionLength},

	{InterfaceStatisticsBlockType, ISBStartTime}:    {"isb_starttime", false, 8},
	{InterfaceStatisticsBlockType, ISBEndTime}:      {"isb_endtime", false, 8},
	{InterfaceStatisticsBlockType, ISBIfRecv}:       {"isb_ifrecv", false, 8},
	{InterfaceStatisticsBlockType, ISBIfDrop}:       {"isb_ifdrop", false, 8},
	{InterfaceStatisticsBlockType, ISBFilterAccept}: {"isb_filteraccept", false, 8},
	{InterfaceStatisticsBlockType, ISBOSDrop}:       {"isb_osdrop", false, 8},
	{InterfaceStatisticsBlockType, ISBUsrDeliv}:     {"isb_usrdeliv", false, 8},
}

// LookupOption 按 (块类型, 选项编号) 查找展示元数据，通用选项优先。
func LookupOption(block BlockType, code uint16) (OptionInfo, bool) {
	if info, ok := globalOptions[code]; ok {
		return info, true
	}
	info, ok := blockOptions[optionKey{block, code}]
	if !ok {
		return OptionInfo{Name: fmt.Sprintf("opt_%d", code), Length: VariableOptionLength}, false
	}
	return info, true
}
