package cliutil

import "github.com/urfave/cli/v2"

// WithErrorHandler ensures the process exits with a failure code when
// actionFunc returns a plain error.
func WithErrorHandler(actionFunc cli.ActionFunc) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		err := actionFunc(ctx)
		if err != nil {
			if _, ok := err.(cli.ExitCoder); !ok {
				err = cli.Exit(err.Error(), 1)
			}
		}
		return err
	}
}
