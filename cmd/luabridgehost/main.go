// Command luabridgehost is the reference host driver spec.md places out
// of scope: just enough of a CLI to load a script, run it against a
// bridge.Runtime the way a real WASM host would sequence init -> compute
// -> read-buffer, and print the result frame. It exists so every §8
// scenario has something runnable behind it, the same role wagon's own
// "run a module from the command line" examples play for exec.NewVM.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/extio/luabridge/internal/hoststore"

	bridge "github.com/extio/luabridge"
)

func main() {
	var (
		script    = flag.String("script", "", "path to a Lua script file (default: stdin)")
		homeID    = flag.Uint("home-id", 0, "attach an existing _home table id instead of creating a fresh one")
		nextID    = flag.Uint("next-id", 0, "sync the external-table id counter before attaching home-id")
		aliasMem  = flag.Bool("memory-alias", false, "expose _home under the legacy Memory global too")
	)
	flag.Parse()

	src, err := readScript(*script)
	if err != nil {
		log.Fatalf("luabridgehost: %v", err)
	}

	rt, err := bridge.New(
		bridge.WithHostStore(hoststore.NewMemstore()),
		bridge.WithMemoryAliasEnabled(*aliasMem),
	)
	if err != nil {
		log.Fatalf("luabridgehost: init: %v", err)
	}
	defer rt.Close()

	if *nextID > 0 {
		rt.SyncExternalTableCounter(uint32(*nextID))
	}
	if *homeID > 0 {
		rt.AttachMemoryTable(uint32(*homeID))
	}

	n := rt.Compute(0, int32(copy(rt.BufferBytes(), src)))
	if n < 0 {
		fmt.Fprintf(os.Stderr, "%s\n", rt.BufferBytes()[:-n])
		os.Exit(1)
	}

	buf := rt.BufferBytes()
	outLen := binary.LittleEndian.Uint32(buf[0:4])
	stdout := buf[4 : 4+outLen]
	value := buf[4+outLen : n]

	if len(stdout) > 0 {
		os.Stdout.Write(stdout)
	}
	fmt.Printf("=> %v\n", value)
	fmt.Printf("memory_table_id=%d next_id=%d\n", rt.GetMemoryTableID(), rt.GetMemoryStats().NextTableID)
}

func readScript(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
