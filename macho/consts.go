// Package macho parses Mach-O executables (FAT and single-architecture,
// 32- and 64-bit) into a typed field tree for the condition runtime to
// query. It is the representative format module named by the
// specification: every other module follows the same parse(bytes) →
// field_tree | none contract, best-effort and total -- a malformed
// substructure is reported absent, never as a parse failure.
package macho

const (
	magic32    uint32 = 0xfeedface
	cigam32    uint32 = 0xcefaedfe
	magic64    uint32 = 0xfeedfacf
	cigam64    uint32 = 0xcffaedfe
	fatMagic   uint32 = 0xcafebabe
	fatCigam   uint32 = 0xbebafeca
	fatMagic64 uint32 = 0xcafebabf
	fatCigam64 uint32 = 0xbfbafeca
)

const (
	csMagicBlobwrapper          uint32 = 0xfade0b01
	csMagicEmbeddedEntitlements uint32 = 0xfade7171
	csMagicEmbeddedSignature    uint32 = 0xfade0cc0
	csMagicCodeDirectory        uint32 = 0xfade0c02
)

const (
	nStab uint8 = 0xe0
	nType uint8 = 0x0e
	nExt  uint8 = 0x01
)

const (
	nUndf uint8 = 0x0
	nAbs  uint8 = 0x2
	nSect uint8 = 0xe
	nIndr uint8 = 0xa
)

const (
	bindOpcodeMask                       uint8 = 0xF0
	bindImmediateMask                    uint8 = 0x0F
	bindOpcodeDone                       uint8 = 0x00
	bindOpcodeSetDylibOrdinalImm         uint8 = 0x10
	bindOpcodeSetDylibOrdinalUleb        uint8 = 0x20
	bindOpcodeSetDylibSpecialImm         uint8 = 0x30
	bindOpcodeSetSymbolTrailingFlagsImm  uint8 = 0x40
	bindOpcodeSetTypeImm                 uint8 = 0x50
	bindOpcodeSetAddendSleb              uint8 = 0x60
	bindOpcodeSetSegmentAndOffsetUleb    uint8 = 0x70
	bindOpcodeAddAddrUleb                uint8 = 0x80
	bindOpcodeDoBind                     uint8 = 0x90
	bindOpcodeDoBindAddAddrUleb          uint8 = 0xA0
	bindOpcodeDoBindAddAddrImmScaled     uint8 = 0xB0
	bindOpcodeDoBindUlebTimesSkippingUleb uint8 = 0xC0
)

const lcReqDyld uint32 = 0x80000000

const (
	lcSegment            uint32 = 0x00000001
	lcSymtab             uint32 = 0x00000002
	lcUnixthread         uint32 = 0x00000005
	lcDysymtab           uint32 = 0x0000000b
	lcLoadDylib          uint32 = 0x0000000c
	lcIDDylib            uint32 = 0x0000000d
	lcLoadDylinker       uint32 = 0x0000000e
	lcIDDylinker         uint32 = 0x0000000f
	lcLoadWeakDylib      uint32 = 0x18 | lcReqDyld
	lcSegment64          uint32 = 0x00000019
	lcUUID               uint32 = 0x0000001b
	lcRpath              uint32 = 0x1c | lcReqDyld
	lcCodeSignature      uint32 = 0x0000001d
	lcReexportDylib      uint32 = 0x1f | lcReqDyld
	lcDyldInfo           uint32 = 0x00000022
	lcDyldInfoOnly       uint32 = 0x22 | lcReqDyld
	lcVersionMinMacosx   uint32 = 0x00000024
	lcVersionMinIphoneos uint32 = 0x00000025
	lcDyldEnvironment    uint32 = 0x00000027
	lcMain               uint32 = 0x28 | lcReqDyld
	lcSourceVersion      uint32 = 0x0000002a
	lcLinkerOption       uint32 = 0x0000002d
	lcVersionMinTvos     uint32 = 0x0000002f
	lcVersionMinWatchos  uint32 = 0x00000030
	lcBuildVersion       uint32 = 0x00000032
	lcDyldExportsTrie    uint32 = 0x00000033 | lcReqDyld
	lcDyldChainedFixups  uint32 = 0x00000034 | lcReqDyld
)
