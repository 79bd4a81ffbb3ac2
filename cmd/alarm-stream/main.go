// Command alarm-stream runs the alarm event streaming server.
package main

import "github.com/oshokin/alarm-stream/cmd/alarm-stream/cmd"

func main() {
	cmd.Execute()
}
