package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ineffectivecoder/DumpGooser/pkg/minidump"
	"github.com/ineffectivecoder/DumpGooser/pkg/normalize"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: dumpstreams <minidump.dmp>")
		os.Exit(1)
	}

	dump, err := minidump.ReadFile(os.Args[1])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("File size: %d bytes\n\n", dump.Size())

	h := dump.Header
	fmt.Printf("=== HEADER ===\n")
	fmt.Printf("Signature: 0x%08X\n", h.Signature)
	fmt.Printf("Version: 0x%08X\n", h.Version)
	fmt.Printf("NumberOfStreams: %d\n", h.NumberOfStreams)
	fmt.Printf("StreamDirectoryRVA: 0x%08X\n", h.StreamDirectoryRVA)
	fmt.Printf("TimeDateStamp: %d\n", h.TimeDateStamp)
	fmt.Printf("Flags: 0x%016X\n\n", h.Flags)

	fmt.Printf("=== STREAMS ===\n")
	for i, dir := range dump.Directory {
		fmt.Printf("[%02d] Type: %2d (%s), Size: %d, RVA: 0x%08X\n",
			i, dir.StreamType, minidump.StreamTypeName(dir.StreamType), dir.DataSize, dir.RVA)
	}
	fmt.Println()

	if si, err := dump.SystemInfo(); err == nil {
		fmt.Printf("=== SYSTEM INFO ===\n")
		fmt.Printf("OS: %s\n", si.OS())
		fmt.Printf("CPU: %s\n", si.CPU())
		fmt.Printf("Build: %s\n\n", si.BuildVersion())
	} else {
		fmt.Printf("SystemInfo: %v\n\n", err)
	}

	if mods, err := dump.Modules(); err == nil {
		fmt.Printf("=== MODULES (%d) ===\n", len(mods))
		for i, m := range normalize.Modules(mods) {
			version := ""
			if m.FileVersion != nil {
				version = " v" + *m.FileVersion
			}
			fmt.Printf("[%3d] 0x%016X 0x%08X %s%s\n", i, m.Base, m.Size, m.Name, version)
		}
		fmt.Println()
	} else {
		fmt.Printf("ModuleList: %v\n\n", err)
	}

	if regions, err := dump.MemoryList(); err == nil {
		fmt.Printf("MemoryList: %d regions\n", len(regions))
	}
	if regions, err := dump.Memory64List(); err == nil {
		var total uint64
		for _, r := range regions {
			total += uint64(len(r.Bytes))
		}
		fmt.Printf("Memory64List: %d regions, %d bytes\n", len(regions), total)
	}
	if mi, err := dump.MemoryInfoList(); err == nil {
		fmt.Printf("MemoryInfoList: %d entries\n", len(mi.Entries))
	}
	if threads, err := dump.Threads(); err == nil {
		fmt.Printf("ThreadList: %d threads\n", len(threads))
	}
	if exc, err := dump.Exception(); err == nil {
		fmt.Printf("Exception: thread=0x%X code=0x%08X address=0x%016X\n", exc.ThreadId, exc.Code, exc.Address)
	}

	// Full normalization with debug logging shows skipped streams
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetOutput(os.Stderr)
	res := normalize.Normalize(dump, logger)
	if res.Process != nil && res.Process.PID != nil {
		fmt.Printf("PID: %d\n", *res.Process.PID)
	}
}
