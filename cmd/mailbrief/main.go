package main

import (
	"mailbrief/cmd/handlers"
	"mailbrief/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
