package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"promptrelay/style"
)

func main() {
	scope := flag.String("scope", "promptrelay", "scope class prefixed to every selector")
	flag.Parse()

	var src []byte
	var err error
	if flag.NArg() > 0 {
		src, err = os.ReadFile(flag.Arg(0))
	} else {
		src, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		log.Fatal(err)
	}

	out, err := style.Sanitize(string(src), *scope)
	if err != nil {
		log.Fatalf("parse error: %v", err)
	}
	fmt.Print(out)
}
