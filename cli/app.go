// Package cli contains the depthcam command line application.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	// register all drivers.
	_ "go.viam.com/depthcam/depthsensor/register"

	"go.viam.com/depthcam/utils"
)

const (
	// Global flags.
	flagConfig   = "config"
	flagDriver   = "driver"
	flagFile     = "file"
	flagShape    = "shape"
	flagDiscard  = "discard"
	flagAttr     = "attr"
	flagTolerate = "tolerate-open-failure"
	flagDebug    = "debug"
	flagLogFile  = "log-file"

	// Command flags.
	flagOutput   = "output"
	flagCaption  = "caption"
	flagAddress  = "address"
	flagFrames   = "frames"
	flagInterval = "interval"
	flagBins     = "bins"
	flagWidth    = "width"
)

// NewApp returns the depthcam app writing command output to out and logs to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "depthcam",
		Usage:           "read, view and record frames from depth cameras",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Metadata:        map[string]interface{}{},
		Before:          setupLogging,
		After:           teardownLogging,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{utils.ConfigEnvVar},
			},
			&cli.StringFlag{
				Name:    flagDriver,
				Usage:   "depth sensor driver to use (see the devices command)",
				EnvVars: []string{utils.DriverEnvVar},
			},
			&cli.StringFlag{
				Name:    flagFile,
				Aliases: []string{"f"},
				Usage:   "open the recording at `PATH` instead of the first live device",
			},
			&cli.StringFlag{
				Name:  flagShape,
				Usage: "depth frame shape as `HxW`, e.g. 480x640",
			},
			&cli.IntFlag{
				Name:  flagDiscard,
				Usage: "number of frames to drop before the kept one",
			},
			&cli.StringSliceFlag{
				Name:  flagAttr,
				Usage: "driver attribute as `KEY=VALUE`; may be repeated",
			},
			&cli.BoolFlag{
				Name:  flagTolerate,
				Usage: "log device open failures instead of exiting",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to `FILE`, rotating it as it grows",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "capture",
				Usage: "capture one depth frame to a file",
				Description: `The format follows the output extension: .png writes 16-bit gray, .jpg a colorized
image, .qoi and .ppm lossless colorized images, and .dat or .dat.gz the raw depth format.`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    flagOutput,
						Aliases: []string{"o"},
						Value:   "depth.png",
						Usage:   "write the frame to `FILE`",
					},
					&cli.BoolFlag{
						Name:  flagCaption,
						Usage: "write a colorized image captioned with the frame's depth range",
					},
				},
				Action: CaptureAction,
			},
			{
				Name:  "view",
				Usage: "plot one depth frame",
				Description: `Without --output the plot is served over HTTP until interrupted. With --output it is
saved as png, jpg, svg or pdf by extension.`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    flagOutput,
						Aliases: []string{"o"},
						Usage:   "save the plot to `FILE` instead of serving it",
					},
					&cli.StringFlag{
						Name:  flagAddress,
						Usage: "serve the plot on `HOST:PORT`",
					},
				},
				Action: ViewAction,
			},
			{
				Name:  "serve",
				Usage: "serve live depth frames over HTTP until interrupted",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagAddress,
						Usage: "listen on `HOST:PORT`",
					},
				},
				Action: ServeAction,
			},
			{
				Name:  "stats",
				Usage: "print statistics and a histogram of one depth frame",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagBins,
						Value: 10,
						Usage: "histogram bins",
					},
					&cli.IntFlag{
						Name:  flagWidth,
						Value: 50,
						Usage: "histogram bar width in characters",
					},
				},
				Action: StatsAction,
			},
			{
				Name:  "record",
				Usage: "record depth frames to a session file the replay driver can open",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagOutput,
						Aliases:  []string{"o"},
						Required: true,
						Usage:    "write the session to `FILE` (.dses or .dses.gz)",
					},
					&cli.IntFlag{
						Name:  flagFrames,
						Value: 30,
						Usage: "number of frames to record",
					},
					&cli.DurationFlag{
						Name:  flagInterval,
						Usage: "wait this long between frames",
					},
				},
				Action: RecordAction,
			},
			{
				Name:   "devices",
				Usage:  "list drivers built into this binary and the devices they can see",
				Action: DevicesAction,
			},
		},
	}
}
