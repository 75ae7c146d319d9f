// Package multiboot extracts the information that the kernel needs from the
// multiboot2 information structure handed over by the boot loader: the copy
// of the ACPI root system descriptor pointer and the boot command line.
package multiboot

import (
	"bootirq/kernel"
	"unsafe"
)

var infoData uintptr

type tagType uint32

const (
	tagMbSectionEnd tagType = 0
	tagBootCmdLine  tagType = 1
	tagACPIOldRSDP  tagType = 14
	tagACPINewRSDP  tagType = 15
)

const (
	sizeofInfoHeader = 8
	sizeofTagHeader  = 8
)

// tagHeader describes the header the preceedes each tag.
type tagHeader struct {
	// The type of the tag
	tagType tagType

	// The size of the tag including the header but *not* including any
	// padding. According to the spec, each tag starts at a 8-byte aligned
	// address.
	size uint32
}

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before invoking any other function
// exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// GetACPIRSDP returns the address of the copy of the ACPI root system
// descriptor pointer that the boot loader placed in the multiboot info. If the
// boot loader supplied both the ACPI 1.0 and the ACPI 2.0+ descriptor, the
// latter is returned and extended is set to true. GetACPIRSDP returns 0 if
// neither tag is present.
func GetACPIRSDP() (rsdpAddr uintptr, extended bool) {
	if curPtr, size := findTagByType(tagACPINewRSDP); size != 0 {
		return curPtr, true
	}

	if curPtr, size := findTagByType(tagACPIOldRSDP); size != 0 {
		return curPtr, false
	}

	return 0, false
}

// BootCmdLineOption looks up an option passed to the kernel on the boot
// command line. Options are separated by spaces and have the form key=value;
// a bare key is reported with a value equal to the key. The returned string
// aliases the multiboot info data so no memory is allocated.
func BootCmdLineOption(key string) (value string, found bool) {
	curPtr, size := findTagByType(tagBootCmdLine)
	if size <= 1 {
		return "", false
	}

	// The command line is a C-style NULL-terminated string
	cmdLine := kernel.Bytes(curPtr, uintptr(size-1))

	for start := 0; start < len(cmdLine); {
		for start < len(cmdLine) && cmdLine[start] == ' ' {
			start++
		}

		end, sep := start, -1
		for ; end < len(cmdLine) && cmdLine[end] != ' '; end++ {
			if cmdLine[end] == '=' && sep == -1 {
				sep = end
			}
		}

		if start < end {
			optKey := cmdLine[start:end]
			if sep != -1 {
				optKey = cmdLine[start:sep]
			}

			if string(optKey) == key {
				if sep == -1 {
					return unsafe.String(&cmdLine[start], end-start), true
				}
				if sep+1 == end {
					return "", true
				}
				return unsafe.String(&cmdLine[sep+1], end-sep-1), true
			}
		}

		start = end
	}

	return "", false
}

// findTagByType scans the multiboot info data looking for the start of of the
// specified type. It returns a pointer to the tag contents start offset and
// the content length exluding the tag header.
//
// If the tag is not present in the multiboot info, findTagSection will return
// back (0,0).
func findTagByType(tagType tagType) (uintptr, uint32) {
	if infoData == 0 {
		return 0, 0
	}

	var ptrTagHeader *tagHeader

	curPtr := infoData + sizeofInfoHeader
	for ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)); ptrTagHeader.tagType != tagMbSectionEnd; ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if ptrTagHeader.tagType == tagType {
			return curPtr + sizeofTagHeader, ptrTagHeader.size - sizeofTagHeader
		}

		// Tags are aligned at 8-byte aligned addresses
		curPtr += uintptr(int32(ptrTagHeader.size+7) & ^7)
	}

	return 0, 0
}
