// Command fakehost is a standalone example embedding host: it hand-builds a
// minimal script image in memory, drives a toy VM through it, and wires the
// break/error callbacks through the same host-hook adapter and session core
// a real embedding host would use. It exists to exercise internal/image,
// internal/session, and internal/hook end to end without a real VM or a
// network client attached.
package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/fansqz/scriptdbg/internal/config"
	"github.com/fansqz/scriptdbg/internal/hook"
	"github.com/fansqz/scriptdbg/internal/image"
	"github.com/fansqz/scriptdbg/internal/session"
	"github.com/fansqz/scriptdbg/internal/vm"
)

// fixedHeaderSize mirrors internal/image's unexported header layout: this
// package builds raw container bytes the same way a compiler's packager
// would, so it can't reuse image's parsing types directly.
const fixedHeaderSize = 25

const contextID = "fakehost-vm-1"

func main() {
	log := logrus.NewEntry(logrus.StandardLogger())
	logrus.SetLevel(logrus.InfoLevel)

	cfg := config.Default()
	raw := buildFakeImage()

	cache := image.NewCache()
	img, err := cache.GetOrOpen("demo.sp", func() ([]byte, error) { return raw, nil })
	if err != nil {
		log.WithError(err).Fatal("failed to open fake image")
	}

	registry := session.NewRegistry()
	adapter := hook.New(registry)

	sess := session.New(nil, log.WithField("session", "demo"))
	sess.RequestFile("demo.sp")
	sess.SetBreakpoint("demo.sp", 2)
	registry.Add(sess)
	defer registry.Remove(sess)

	ptm, pts, err := pty.Open()
	if err != nil {
		log.WithError(err).Fatal("pty.Open failed")
	}
	defer ptm.Close()
	defer pts.Close()
	if _, err := term.MakeRaw(int(ptm.Fd())); err != nil {
		log.WithError(err).Warn("term.MakeRaw failed")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 256)
		for {
			n, err := ptm.Read(buf)
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	vmCtx := newToyVM(img, pts)

	if cfg.DebuggerWaitTime > 0 {
		time.Sleep(cfg.DebuggerWaitTime)
	}

	programDone := make(chan struct{})
	go runProgram(adapter, vmCtx, img, programDone)

	driveClient(sess, log)

	<-programDone
	pts.Close()
	wg.Wait()
}

// runProgram plays the toy VM's four-line "program": it fires a break at
// each instrumented line and, once, an error, exactly as a real VM's
// instrumentation would call into the host hooks.
func runProgram(adapter *hook.Adapter, vmCtx *toyVM, img *image.Image, done chan<- struct{}) {
	defer close(done)
	lines := []uint32{0, 8, 16, 24}
	for _, addr := range lines {
		vmCtx.setCip(addr)
		fmt.Fprintf(vmCtx.pts, "executing address %d\r\n", addr)
		state := adapter.OnBreak(contextID, vmCtx, img, addr)
		if state == session.Dead {
			return
		}
	}
	fmt.Fprintln(vmCtx.pts, "simulating a runtime error\r")
	adapter.OnError(contextID, vmCtx, "division by zero")
}

// driveClient plays the debugger client's side: it waits for the VM to park
// at rendezvous and issues the next command, the way a real client would in
// response to a HasStopped frame.
func driveClient(sess *session.Session, log *logrus.Entry) {
	waitStopped(sess)
	log.Infof("stopped at state=%s, stepping in", sess.State())
	sess.StepIn()

	waitStopped(sess)
	log.Infof("stopped at state=%s, continuing", sess.State())
	sess.Continue()

	waitStopped(sess)
	log.Infof("stopped at state=%s (expected exception), resuming", sess.State())
	sess.Continue()

	waitStopped(sess)
	log.Infof("final state=%s, stopping session", sess.State())
	sess.StopDebugging()
}

func waitStopped(sess *session.Session) {
	for !sess.State().Stopped() && sess.State() != session.Dead {
		time.Sleep(5 * time.Millisecond)
	}
}

// --- toy VM ---------------------------------------------------------------

// toyVM is the minimal vm.Context a fake host needs: a flat byte-addressed
// memory region standing in for the script's data segment, plus a single
// synthetic call frame that tracks whatever address the program counter is
// currently sitting at.
type toyVM struct {
	mu  sync.Mutex
	mem []byte
	img *image.Image
	pts *os.File
	cip uint32
}

func newToyVM(img *image.Image, pts *os.File) *toyVM {
	mem := make([]byte, img.Data.MemSize)
	copy(mem, img.Data.Bytes)
	return &toyVM{mem: mem, img: img, pts: pts}
}

func (v *toyVM) setCip(addr uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cip = addr
}

func (v *toyVM) ReadMemory(addr uint32, length int) ([]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	end := uint64(addr) + uint64(length)
	if length < 0 || end > uint64(len(v.mem)) {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, v.mem[addr:end])
	return out, true
}

func (v *toyVM) WriteMemory(addr uint32, data []byte) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	end := uint64(addr) + uint64(len(data))
	if end > uint64(len(v.mem)) {
		return false
	}
	copy(v.mem[addr:end], data)
	return true
}

func (v *toyVM) LocalToPhysAddr(localAddr uint32) (uint32, error) { return localAddr, nil }

func (v *toyVM) Frames() []vm.Frame {
	v.mu.Lock()
	cip := v.cip
	v.mu.Unlock()
	line, _ := v.img.LookupLine(cip)
	return []vm.Frame{{FunctionName: "main", File: "demo.sp", Line: line, FRM: 0, Scripted: true}}
}

func (v *toyVM) ImageFile() string { return "demo.sp" }

// --- fake image construction ----------------------------------------------

type sectionSpec struct {
	name string
	data []byte
}

// buildFakeImage hand-assembles a valid, uncompressed script container with
// just enough tables for one public function, four debug lines, and one
// RTTI-encoded global int32 variable named "counter".
func buildFakeImage() []byte {
	names := newNameBuilder()
	fileNameOff := names.add("demo.sp")
	mainNameOff := names.add("main")
	counterNameOff := names.add("counter")

	const counterAddr = 0
	inlineInt32TypeID := uint32(image.TagInt32) << 4

	sections := []sectionSpec{
		{".names", names.bytes()},
		{".code", codeSection(32)},
		{".data", dataSection(4, 256, u32(0))},
		{".publics", rowTableSection(8, [][]byte{
			concatBytes(u32(0), u32(mainNameOff)),
		})},
		{".dbg.files", rowTableSection(8, [][]byte{
			concatBytes(u32(0), u32(fileNameOff)),
		})},
		// LookupLine reports stored Line+1 (the CIP precedes the line it
		// stopped on), so the rows below surface as source lines 1..4.
		{".dbg.lines", rowTableSection(8, [][]byte{
			concatBytes(u32(0), u32(0)),
			concatBytes(u32(8), u32(1)),
			concatBytes(u32(16), u32(2)),
			concatBytes(u32(24), u32(3)),
		})},
		{".dbg.globals", rowTableSection(12, [][]byte{
			concatBytes(u32(counterAddr), u32(inlineInt32TypeID), u32(counterNameOff)),
		})},
	}

	return assembleImage(sections)
}

type nameBuilder struct {
	buf bytes.Buffer
}

func newNameBuilder() *nameBuilder { return &nameBuilder{} }

func (b *nameBuilder) add(s string) uint32 {
	off := uint32(b.buf.Len())
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
	return off
}

func (b *nameBuilder) bytes() []byte { return append([]byte(nil), b.buf.Bytes()...) }

func rowTableSection(rowSize uint32, rows [][]byte) []byte {
	var buf bytes.Buffer
	buf.Write(u32(12))
	buf.Write(u32(rowSize))
	buf.Write(u32(uint32(len(rows))))
	for _, r := range rows {
		buf.Write(r)
	}
	return buf.Bytes()
}

func codeSection(payloadLen int) []byte {
	var buf bytes.Buffer
	buf.Write(u32(uint32(payloadLen)))
	buf.WriteByte(image.CellSize)
	buf.WriteByte(image.CurrentCodeVersion)
	buf.Write(u16(0))
	buf.Write(u32(0))
	buf.Write(make([]byte, payloadLen))
	return buf.Bytes()
}

func dataSection(length, memSize uint32, initial []byte) []byte {
	var buf bytes.Buffer
	buf.Write(u32(length))
	buf.Write(u32(memSize))
	payload := make([]byte, length)
	copy(payload, initial)
	buf.Write(payload)
	return buf.Bytes()
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func concatBytes(parts ...[]byte) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(p)
	}
	return buf.Bytes()
}

// assembleImage lays out the fixed header, section table, section-name
// string table, and section payloads, in that order, mirroring the layout
// internal/image.Open expects.
func assembleImage(sections []sectionSpec) []byte {
	nameOffsets := make([]uint32, len(sections))
	var nameTable bytes.Buffer
	for i, s := range sections {
		nameOffsets[i] = uint32(nameTable.Len())
		nameTable.WriteString(s.name)
		nameTable.WriteByte(0)
	}

	sectionTableSize := uint32(len(sections)) * 12
	stringTab := uint32(fixedHeaderSize) + sectionTableSize
	dataStart := stringTab + uint32(nameTable.Len())

	dataOffsets := make([]uint32, len(sections))
	cursor := dataStart
	for i, s := range sections {
		dataOffsets[i] = cursor
		cursor += uint32(len(s.data))
	}
	total := cursor

	out := make([]byte, total)
	binary.LittleEndian.PutUint32(out[0:4], image.Magic)
	binary.LittleEndian.PutUint16(out[4:6], image.Version10)
	out[6] = image.CompressNone
	binary.LittleEndian.PutUint32(out[7:11], total)
	binary.LittleEndian.PutUint32(out[11:15], total)
	binary.LittleEndian.PutUint16(out[15:17], uint16(len(sections)))
	binary.LittleEndian.PutUint32(out[17:21], stringTab)
	binary.LittleEndian.PutUint32(out[21:25], 0)

	off := fixedHeaderSize
	for i, s := range sections {
		binary.LittleEndian.PutUint32(out[off:off+4], nameOffsets[i])
		binary.LittleEndian.PutUint32(out[off+4:off+8], dataOffsets[i])
		binary.LittleEndian.PutUint32(out[off+8:off+12], uint32(len(s.data)))
		off += 12
	}

	copy(out[stringTab:], nameTable.Bytes())
	for i, s := range sections {
		copy(out[dataOffsets[i]:], s.data)
	}
	return out
}
