// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bbnote/ccdbg"
	"github.com/bbnote/ccdbg/internal/sysfsgpio"
	"github.com/bbnote/ccdbg/pkg/binfmt"
	"github.com/bbnote/ccdbg/pkg/ihex"
	"github.com/bbnote/ccdbg/pkg/sparseimage"
	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var logger *logrus.Logger

func initLogger(level int) {
	formatter := &prefixed.TextFormatter{
		DisableColors:   false,
		TimestampFormat: "15:04:05",
		FullTimestamp:   true,
		ForceFormatting: true,
	}

	logger = logrus.New()
	logger.SetFormatter(formatter)
	logger.SetOutput(colorable.NewColorableStdout())
	logger.SetLevel(logrus.Level(level))
}

var debugCommandsByName = map[string]ccdbg.DebugCommand{
	"ec": ccdbg.DebugCommandChipErase,
	"wc": ccdbg.DebugCommandWrConfig,
	"rc": ccdbg.DebugCommandRdConfig,
	"gp": ccdbg.DebugCommandGetPC,
	"rs": ccdbg.DebugCommandReadStatus,
	"ho": ccdbg.DebugCommandHalt,
	"ro": ccdbg.DebugCommandResume,
	"ri": ccdbg.DebugCommandDebugInstr,
	"si": ccdbg.DebugCommandStepInstr,
	"gb": ccdbg.DebugCommandGetBM,
	"gi": ccdbg.DebugCommandGetChipID,
	"bw": ccdbg.DebugCommandBurstWrite,
}

func main() {
	flagLogLevel := flag.Int("LogLevel", int(logrus.InfoLevel), "logging verbosity [0-7]")
	flagReset := flag.Int("reset", 17, "sysfs GPIO line number for RESET")
	flagDC := flag.Int("dc", 27, "sysfs GPIO line number for DC")
	flagDD := flag.Int("dd", 22, "sysfs GPIO line number for DD")
	flagDelay := flag.Duration("delay", 5*time.Microsecond, "half-period delay for DC pulses")

	flagShowInfo := flag.Bool("si", false, "print chip info")
	flagExecInstr := flag.String("ei", "", "execute an 8051 instruction given as hex bytes, print resulting A")
	flagRawCommand := flag.String("ec", "", "issue a raw debug command: cmd2[,hex-bytes]; only ri (DEBUG_INSTR) is executed, other command names exit with an error")

	flagReadMem := flag.String("rm", "", "read memory: addr:size")
	flagWriteMem := flag.String("wm", "", "write memory: addr:hex-bytes")
	flagReadFlash := flag.String("rf", "", "read flash: addr:size")
	flagWriteFlash := flag.String("wf", "", "write flash: addr:hex-bytes")
	flagVerify := flag.Bool("verify", false, "verify writes by reading back")

	flagReadPage := flag.Int("rp", -1, "read one flash page")
	flagWritePage := flag.String("wp", "", "write one flash page: page:hex-bytes")
	flagErasePage := flag.Int("ep", -1, "erase one flash page")
	flagCheckPage := flag.Int("cp", -1, "query lock state of one flash page")

	flagLockPages := flag.String("lp", "", "lock a page range: startPage[,count]")
	flagUnlockPages := flag.String("up", "", "unlock a page range: startPage[,count]")

	flagEraseFlash := flag.Bool("ef", false, "whole-flash erase")
	flagLockDebug := flag.Bool("ld", false, "permanently lock the debug interface")

	flagInFile := flag.String("in", "", "input file for -wf region data (ihex or bin, see -format); -wm does not read files")
	flagOutFile := flag.String("out", "", "output file for -rf/-rp region data (ihex or bin, see -format); -rm always prints hex to stdout")
	flagFormat := flag.String("format", "hex", "file format for -in/-out: hex or bin (raw files are not supported)")

	flag.Parse()

	initLogger(*flagLogLevel)
	ccdbg.SetLogger(logger)

	pins, err := sysfsgpio.Open(sysfsgpio.PinMapping{Reset: *flagReset, DC: *flagDC, DD: *flagDD}, *flagDelay)
	if err != nil {
		logger.WithError(err).Fatal("failed to open gpio lines")
	}
	defer pins.Close()

	core := ccdbg.NewCore(pins)

	info, err := core.Identify()
	if err != nil {
		logger.WithError(err).Fatal("failed to identify chip")
	}
	logger.Infof("identified %s rev %d, locked=%v", info.Name, info.Revision, info.IsLocked)

	switch {
	case *flagShowInfo:
		printChipInfo(info)

	case *flagExecInstr != "":
		runExecInstr(core, *flagExecInstr)

	case *flagRawCommand != "":
		runRawCommand(core, *flagRawCommand)

	case *flagReadMem != "":
		runReadMemory(core, *flagReadMem)

	case *flagWriteMem != "":
		runWriteMemory(core, *flagWriteMem, *flagVerify)

	case *flagReadFlash != "":
		runReadFlash(core, *flagReadFlash, *flagOutFile, *flagFormat)

	case *flagWriteFlash != "":
		runWriteFlash(core, *flagWriteFlash, *flagInFile, *flagFormat, *flagVerify)

	case *flagReadPage >= 0:
		runReadPage(core, uint32(*flagReadPage), *flagOutFile, *flagFormat)

	case *flagWritePage != "":
		runWritePage(core, *flagWritePage, *flagVerify)

	case *flagErasePage >= 0:
		if err := core.ErasePage(uint32(*flagErasePage)); err != nil {
			logger.WithError(err).Fatal("erase page failed")
		}

	case *flagCheckPage >= 0:
		locked, err := core.IsPageLocked(uint32(*flagCheckPage))
		if err != nil {
			logger.WithError(err).Fatal("page lock query failed")
		}
		fmt.Printf("page %d locked: %v\n", *flagCheckPage, locked)

	case *flagLockPages != "":
		runLockRange(core, *flagLockPages, true)

	case *flagUnlockPages != "":
		runLockRange(core, *flagUnlockPages, false)

	case *flagEraseFlash:
		if err := core.EraseFlash(); err != nil {
			logger.WithError(err).Fatal("flash erase failed")
		}

	case *flagLockDebug:
		if err := core.Lock(); err != nil {
			logger.WithError(err).Fatal("debug-interface lock failed")
		}

	default:
		flag.Usage()
	}
}

func printChipInfo(info ccdbg.ChipInfo) {
	fmt.Printf("chip:               %s (id 0x%02x, rev %d)\n", info.Name, info.ID, info.Revision)
	fmt.Printf("locked:             %v\n", info.IsLocked)
	if info.IsLocked {
		return
	}
	fmt.Printf("flash size:         %d bytes\n", info.FlashSize)
	fmt.Printf("writable flash:     %d bytes\n", info.WritableFlashSize)
	fmt.Printf("flash bank size:    %d bytes\n", info.FlashBankSize)
	fmt.Printf("flash page size:    %d bytes\n", info.FlashPageSize)
	fmt.Printf("flash pages:        %d\n", info.NumberOfFlashPages)
	fmt.Printf("sram size:          %d bytes\n", info.SRAMSize)
	if len(info.IEEEAddress) > 0 {
		fmt.Printf("ieee address:       %s\n", hex.EncodeToString(info.IEEEAddress))
	}
}

func runExecInstr(core *ccdbg.Core, arg string) {
	instr, err := hex.DecodeString(arg)
	if err != nil {
		logger.WithError(err).Fatal("bad hex instruction")
	}
	a, err := core.ExecuteInstruction(instr)
	if err != nil {
		logger.WithError(err).Fatal("instruction execution failed")
	}
	fmt.Printf("A = 0x%02x\n", a)
}

func runRawCommand(core *ccdbg.Core, arg string) {
	parts := strings.SplitN(arg, ",", 2)
	cmd, ok := debugCommandsByName[parts[0]]
	if !ok {
		logger.Fatalf("unknown raw command %q", parts[0])
	}

	var payload []byte
	if len(parts) == 2 {
		var err error
		payload, err = hex.DecodeString(parts[1])
		if err != nil {
			logger.WithError(err).Fatal("bad hex payload")
		}
	}

	switch cmd {
	case ccdbg.DebugCommandDebugInstr:
		a, err := core.ExecuteInstruction(payload)
		if err != nil {
			logger.WithError(err).Fatal("raw command failed")
		}
		fmt.Printf("A = 0x%02x\n", a)
	default:
		logger.Fatal("raw command not directly wired through CoreFacade; use a narrower flag")
	}
}

func parseAddrSize(s string) (uint64, uint64, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected addr:size, got %q", s)
	}
	addr, err := strconv.ParseUint(parts[0], 0, 64)
	if err != nil {
		return 0, 0, err
	}
	size, err := strconv.ParseUint(parts[1], 0, 64)
	if err != nil {
		return 0, 0, err
	}
	return addr, size, nil
}

func runReadMemory(core *ccdbg.Core, arg string) {
	addr, size, err := parseAddrSize(arg)
	if err != nil {
		logger.WithError(err).Fatal("bad -rm argument")
	}
	data, err := core.ReadMemory(uint16(addr), int(size))
	if err != nil {
		logger.WithError(err).Fatal("read memory failed")
	}
	fmt.Println(hex.EncodeToString(data))
}

func runWriteMemory(core *ccdbg.Core, arg string, verify bool) {
	parts := strings.SplitN(arg, ":", 2)
	if len(parts) != 2 {
		logger.Fatalf("expected addr:hex-bytes, got %q", arg)
	}
	addr, err := strconv.ParseUint(parts[0], 0, 16)
	if err != nil {
		logger.WithError(err).Fatal("bad address")
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil {
		logger.WithError(err).Fatal("bad hex data")
	}
	if err := core.WriteMemory(uint16(addr), data, verify); err != nil {
		logger.WithError(err).Fatal("write memory failed")
	}
}

func loadImage(path, format string) (*sparseimage.SparseImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch format {
	case "hex":
		return ihex.Decode(f, ihex.Options{})
	case "bin":
		return binfmt.Decode(f)
	default:
		return nil, fmt.Errorf("unsupported input format %q", format)
	}
}

func saveImage(path, format string, img *sparseimage.SparseImage) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch format {
	case "hex":
		return ihex.Encode(f, img, ihex.DefaultRecordLength)
	case "bin":
		return binfmt.Encode(f, img)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func runReadFlash(core *ccdbg.Core, arg, outFile, format string) {
	addr, size, err := parseAddrSize(arg)
	if err != nil {
		logger.WithError(err).Fatal("bad -rf argument")
	}
	data, n, err := core.ReadFlash(uint32(addr), uint32(size))
	if err != nil {
		logger.WithError(err).WithField("bytesRead", n).Fatal("read flash failed")
	}

	if outFile == "" {
		fmt.Println(hex.EncodeToString(data))
		return
	}

	img := sparseimage.New(sparseimage.Mode32Bit)
	if err := img.Insert(addr, data); err != nil {
		logger.WithError(err).Fatal("building output image failed")
	}
	if err := saveImage(outFile, format, img); err != nil {
		logger.WithError(err).Fatal("writing output file failed")
	}
}

func runWriteFlash(core *ccdbg.Core, arg, inFile, format string, verify bool) {
	if inFile != "" {
		img, err := loadImage(inFile, format)
		if err != nil {
			logger.WithError(err).Fatal("loading input image failed")
		}
		for _, region := range img.Regions() {
			data := make([]byte, region.Size())
			if err := img.CopyOut(region.BaseAddress, region.Size(), data); err != nil {
				logger.WithError(err).Fatal("reading region from image failed")
			}
			if n, err := core.WriteFlash(uint32(region.BaseAddress), data, verify); err != nil {
				logger.WithError(err).WithField("bytesWritten", n).Fatalf("writing region at 0x%x failed", region.BaseAddress)
			}
		}
		return
	}

	parts := strings.SplitN(arg, ":", 2)
	if len(parts) != 2 {
		logger.Fatalf("expected addr:hex-bytes, got %q", arg)
	}
	addr, err := strconv.ParseUint(parts[0], 0, 32)
	if err != nil {
		logger.WithError(err).Fatal("bad address")
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil {
		logger.WithError(err).Fatal("bad hex data")
	}
	if n, err := core.WriteFlash(uint32(addr), data, verify); err != nil {
		logger.WithError(err).WithField("bytesWritten", n).Fatal("write flash failed")
	}
}

func runReadPage(core *ccdbg.Core, page uint32, outFile, format string) {
	data, err := core.ReadFlashPage(page)
	if err != nil {
		logger.WithError(err).Fatal("read flash page failed")
	}

	if outFile == "" {
		fmt.Println(hex.EncodeToString(data))
		return
	}

	img := sparseimage.New(sparseimage.Mode32Bit)
	if err := img.Insert(uint64(page)*uint64(len(data)), data); err != nil {
		logger.WithError(err).Fatal("building output image failed")
	}
	if err := saveImage(outFile, format, img); err != nil {
		logger.WithError(err).Fatal("writing output file failed")
	}
}

func runWritePage(core *ccdbg.Core, arg string, verify bool) {
	parts := strings.SplitN(arg, ":", 2)
	if len(parts) != 2 {
		logger.Fatalf("expected page:hex-bytes, got %q", arg)
	}
	page, err := strconv.ParseUint(parts[0], 0, 32)
	if err != nil {
		logger.WithError(err).Fatal("bad page number")
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil {
		logger.WithError(err).Fatal("bad hex data")
	}
	if err := core.WriteFlashPage(uint32(page), data, verify); err != nil {
		logger.WithError(err).Fatal("write flash page failed")
	}
}

func runLockRange(core *ccdbg.Core, arg string, lock bool) {
	parts := strings.SplitN(arg, ",", 2)
	startPage, err := strconv.ParseUint(parts[0], 0, 32)
	if err != nil {
		logger.WithError(err).Fatal("bad start page")
	}

	count := uint64(1)
	if len(parts) == 2 {
		count, err = strconv.ParseUint(parts[1], 0, 32)
		if err != nil {
			logger.WithError(err).Fatal("bad page count")
		}
	}

	if lock {
		err = core.LockPages(uint32(startPage), uint32(count))
	} else {
		err = core.UnlockPages(uint32(startPage), uint32(count))
	}
	if err != nil {
		logger.WithError(err).Fatal("page lock/unlock range failed")
	}
}
