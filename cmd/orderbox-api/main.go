package main

import (
	"context"
	"errors"
)

func main() {
	app := mustBootstrapOrderAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
