package disk

import "strings"

// GPT partition type GUIDs the flags are derived from.
const (
	BIOSBootPartitionGUID  = "21686148-6449-6E6F-744E-656564454649"
	EFISystemPartitionGUID = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
	FilesystemDataGUID     = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
	LVMPartitionGUID       = "E6D6D379-F507-44C2-A23C-238F2A3DF928"
	RAIDPartitionGUID      = "A19D880F-05FC-4D3B-A006-743F0F84911E"
	SwapPartitionGUID      = "0657FD6D-A4AB-43C4-84E5-0933C84B4F4F"
)

// DOS partition type ids as printed by sfdisk, without the "0x" prefix.
const (
	DOSExtendedType    = "5"
	DOSExtendedLBAType = "f"
	DOSLinuxExtType    = "85"
	DOSSwapType        = "82"
	DOSLinuxType       = "83"
	DOSLVMType         = "8e"
	DOSRAIDType        = "fd"
	DOSESPType         = "ef"
	DOSFAT32LBAType    = "c"
	DOSFAT16LBAType    = "e"
)

func normalizeDOSType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = strings.TrimPrefix(t, "0x")
	t = strings.TrimLeft(t, "0")
	return t
}

// IsDOSExtendedType reports whether a DOS partition type id denotes an
// extended partition.
func IsDOSExtendedType(t string) bool {
	switch normalizeDOSType(t) {
	case DOSExtendedType, DOSExtendedLBAType, DOSLinuxExtType:
		return true
	}
	return false
}

// FlagsFromType derives the flags implied by the partition type of the given
// table.
func FlagsFromType(table PartitionTableType, t string) Flags {
	var f Flags
	switch table {
	case PT_GPT:
		switch strings.ToUpper(strings.TrimSpace(t)) {
		case BIOSBootPartitionGUID:
			f |= FlagBIOSGrub
		case EFISystemPartitionGUID:
			f |= FlagESP | FlagBoot
		case LVMPartitionGUID:
			f |= FlagLVM
		case RAIDPartitionGUID:
			f |= FlagRAID
		case SwapPartitionGUID:
			f |= FlagSwap
		}
	case PT_MSDOS:
		switch normalizeDOSType(t) {
		case DOSExtendedLBAType, DOSFAT32LBAType, DOSFAT16LBAType:
			f |= FlagLBA
		case DOSLVMType:
			f |= FlagLVM
		case DOSRAIDType:
			f |= FlagRAID
		case DOSSwapType:
			f |= FlagSwap
		case DOSESPType:
			f |= FlagESP
		}
	case PT_NONE:
	}
	return f
}
