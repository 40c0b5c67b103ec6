//go:build windows

package server

import "os"

func notifyReload(chan<- os.Signal) {}

func stopReload(chan<- os.Signal) {}
