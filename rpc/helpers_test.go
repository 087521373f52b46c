package rpc

import "github.com/najoast/yarpc/loop"

func loopOptions() loop.Options {
	return loop.Options{Workers: 4, QueueSize: 16}
}
