// Command exitcheck проверяет, что процесс завершается только из функции main пакета main.
//
// Использование:
//
//	go run ./cmd/exitcheck ./...
package main

import "golang.org/x/tools/go/analysis/singlechecker"

func main() {
	singlechecker.Main(Analyzer)
}
