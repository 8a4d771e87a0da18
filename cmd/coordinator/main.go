// Command coordinator runs one repair coordinator instance: it heartbeats,
// competes for the scheduler lease and repairs segments under node locks.
package main

import (
	"os"

	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		os.Exit(1)
	}
}
