package command

import (
	"flag"
	"fmt"
	"io"

	"github.com/joeycumines/jsbridge/internal/config"
	"github.com/joeycumines/jsbridge/internal/engine"
)

// sessionCommand is the shared shape of commands that run one engine
// session: parse session flags, open, run, close.
type sessionCommand struct {
	*BaseCommand
	session sessionFlags
	minArgs int
	run     func(s *engine.Session, args []string, stdout io.Writer) error
}

func (c *sessionCommand) SetupFlags(fs *flag.FlagSet) {
	c.session.register(fs)
}

func (c *sessionCommand) Execute(args []string, stdout, stderr io.Writer) (err error) {
	if len(args) < c.minArgs {
		_, _ = fmt.Fprintf(stderr, "Usage: jsbridge %s\n", c.Usage())
		return fmt.Errorf("%s: expected at least %d arguments", c.Name(), c.minArgs)
	}
	s, err := c.session.open(stderr)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return c.run(s, args, stdout)
}

// NewCreateCommand creates the create command, which constructs a script
// type and prints the handle of the new object.
func NewCreateCommand(cfg *config.Config) Command {
	return &sessionCommand{
		BaseCommand: NewBaseCommand(
			"create",
			"Construct a script type with JSON arguments",
			"create [options] <module.Type> [json-arg...]",
		),
		session: sessionFlags{cfg: cfg},
		minArgs: 1,
		run: func(s *engine.Session, args []string, stdout io.Writer) error {
			obj, err := s.Create(args[0], jsonArgs(args[1:]))
			if err != nil {
				return err
			}
			return writeJSON(stdout, printable(obj, nil))
		},
	}
}

// NewCallStaticCommand creates the call-static command.
func NewCallStaticCommand(cfg *config.Config) Command {
	return &sessionCommand{
		BaseCommand: NewBaseCommand(
			"call-static",
			"Call a static method with JSON arguments and print the JSON result",
			"call-static [options] <module.Type> <method> [json-arg...]",
		),
		session: sessionFlags{cfg: cfg},
		minArgs: 2,
		run: func(s *engine.Session, args []string, stdout io.Writer) error {
			v, err := engine.CallStaticAs[any](s, args[0], args[1], jsonArgs(args[2:]))
			if err != nil {
				return err
			}
			return writeJSON(stdout, printable(v, nil))
		},
	}
}

// NewGetStaticCommand creates the get-static command.
func NewGetStaticCommand(cfg *config.Config) Command {
	return &sessionCommand{
		BaseCommand: NewBaseCommand(
			"get-static",
			"Read a static property and print it as JSON",
			"get-static [options] <module.Type> <property>",
		),
		session: sessionFlags{cfg: cfg},
		minArgs: 2,
		run: func(s *engine.Session, args []string, stdout io.Writer) error {
			v, err := engine.GetStaticAs[any](s, args[0], args[1])
			if err != nil {
				return err
			}
			return writeJSON(stdout, printable(v, nil))
		},
	}
}
