// Command tokenproxy runs the token pool forward proxy.
package main

import "github.com/nghyane/tokenproxy/internal/cli"

func main() {
	cli.Execute()
}
