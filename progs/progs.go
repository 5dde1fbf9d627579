// Package progs contains the user programs built into the kernel image.
//
// Every program is described by an ELF layout, so the loader validates and
// maps it like any image read from disk, and a Go function that runs once
// the image has been loaded.
package progs

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/zjuxlh1993/15410-1/kernel/loader"
	"github.com/zjuxlh1993/15410-1/kernel/mm/vmm"
	"github.com/zjuxlh1993/15410-1/kernel/syscall"
)

const (
	pageSize = uint32(4096)

	textBase   = vmm.UserMemStart
	dataBase   = textBase + pageSize
	rodataBase = dataBase + pageSize
	bssBase    = rodataBase + pageSize
	bssLen     = uint32(64)

	// heapBase is where programs place their new_pages regions.
	heapBase = uint32(0x40000000)
)

// Entry is a built-in program.
type Entry struct {
	Name    string
	Layout  loader.Layout
	Program syscall.Program
}

// Image returns the executable image of the program.
func (e Entry) Image() []byte {
	return loader.BuildImage(e.Layout)
}

// All returns the built-in programs.
func All() []Entry {
	return []Entry{
		{Name: "init", Layout: layout(""), Program: initMain},
		{Name: "child_program", Layout: layout(childGreeting), Program: childMain},
		{Name: "fork_test", Layout: layout("", forkSentinel), Program: forkTestMain},
		{Name: "thread_test", Layout: layout(""), Program: threadTestMain},
		{Name: "spin", Layout: layout(""), Program: spinMain},
		{Name: "halt", Layout: layout(""), Program: haltMain},
	}
}

// Lookup returns the built-in program called name.
func Lookup(name string) (Entry, bool) {
	for _, e := range All() {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Registrar is implemented by the system-call layer.
type Registrar interface {
	RegisterProgram(name string, prog syscall.Program)
}

// ImageAdder is implemented by the loader's image store.
type ImageAdder interface {
	Add(name string, image []byte)
}

// Install adds the image of every built-in program to images and registers
// its code with r.
func Install(r Registrar, images ImageAdder) {
	for _, e := range All() {
		images.Add(e.Name, e.Image())
		r.RegisterProgram(e.Name, e.Program)
	}
}

// layout returns the standard program layout: one page each for text, data
// and rodata followed by a small bss.
func layout(rodata string, data ...uint32) loader.Layout {
	l := loader.Layout{
		Entry:   textBase,
		Text:    loader.Section{Addr: textBase, Bytes: []byte{0x55, 0x89, 0xe5, 0xf4, 0xc3}},
		BssAddr: bssBase,
		BssLen:  bssLen,
	}

	if len(data) != 0 {
		buf := make([]byte, 4*len(data))
		for i, word := range data {
			binary.LittleEndian.PutUint32(buf[4*i:], word)
		}
		l.Data = loader.Section{Addr: dataBase, Bytes: buf}
	}

	if rodata != "" {
		l.Rodata = loader.Section{Addr: rodataBase, Bytes: []byte(rodata)}
	}

	return l
}

func printf(th *syscall.Thread, format string, args ...interface{}) {
	th.Print(fmt.Sprintf(format, args...))
}

// argInt returns argv[index] as an integer or def if it is missing or
// malformed.
func argInt(th *syscall.Thread, index, def int) int {
	args := th.Args()
	if index >= len(args) {
		return def
	}
	v, err := strconv.Atoi(args[index])
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// wait collects a child and returns its pid and exit status.
func wait(th *syscall.Thread) (int, int) {
	addr := th.Push32(0)
	pid := th.Wait(addr)
	status := int(int32(th.Pop32()))
	return pid, status
}
