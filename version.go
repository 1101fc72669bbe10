package main

import (
	"fmt"

	"github.com/catchy-build/catchy/internal/version"
)

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, versionString())
}

func versionString() string {
	return version.Full()
}
