package loader

import (
	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/mm/vmm"
)

var (
	errEntryOutsideText = &kernel.Error{Module: "loader", Message: "entry point outside of text segment", Code: -3}
	errTextBelowUser    = &kernel.Error{Module: "loader", Message: "text segment below user memory", Code: -4}
	errDataBelowUser    = &kernel.Error{Module: "loader", Message: "data segment below user memory", Code: -5}
	errRodataBelowUser  = &kernel.Error{Module: "loader", Message: "rodata segment below user memory", Code: -6}
	errBssBelowUser     = &kernel.Error{Module: "loader", Message: "bss segment below user memory", Code: -7}
)

// Validate checks that desc describes a program that may be loaded into
// user memory. Segments with a zero length are not checked against the
// user memory boundary.
func Validate(desc *Descriptor) *kernel.Error {
	if desc.Entry < desc.Text.Addr || uint64(desc.Entry) >= uint64(desc.Text.Addr)+uint64(desc.Text.Len) {
		return errEntryOutsideText
	}

	checks := []struct {
		seg Segment
		err *kernel.Error
	}{
		{desc.Text, errTextBelowUser},
		{desc.Data, errDataBelowUser},
		{desc.Rodata, errRodataBelowUser},
		{desc.Bss, errBssBelowUser},
	}

	for _, check := range checks {
		if check.seg.Len != 0 && check.seg.Addr < vmm.UserMemStart {
			return check.err
		}
	}

	return nil
}
