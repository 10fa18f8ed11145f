// Copyright (c) 2020 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

// Package main implements the idevicextract command line tool. Run without
// arguments it connects to the single attached device, extracts the message
// store and the application inventory and writes a report:
//     idevicextract
//
// Decrypt a sealed artifact with the passphrase from IDEVICEXTRACT_KEY:
//     idevicextract unseal sms_messages.csv.enc sms_messages.csv
//
// List a directory of the device's exposed filesystem:
//     idevicextract ls /Downloads
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/forensicanalysis/idevicextract"
	"github.com/forensicanalysis/idevicextract/idevice"
	"github.com/forensicanalysis/idevicextract/idevice/usbmux"
	"github.com/forensicanalysis/idevicextract/seal"
)

func main() {
	var configPath string
	fs := afero.NewOsFs()

	rootCmd := &cobra.Command{
		Use:   "idevicextract",
		Short: "Extract forensic artifacts from a connected iOS device",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := idevicextract.LoadConfig(fs, configPath)
			if err != nil {
				return err
			}
			pipeline := idevicextract.NewPipeline(&usbmux.Driver{}, fs, config)
			return pipeline.Run(context.Background())
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.AddCommand(unsealCommand(fs), lsCommand(fs, &configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

func unsealCommand(fs afero.Fs) *cobra.Command {
	return &cobra.Command{
		Use:   "unseal <sealed> <output>",
		Short: "Decrypt a sealed artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return seal.Unseal(fs, args[0], args[1], os.Getenv(idevicextract.PassphraseEnv))
		},
	}
}

func lsCommand(fs afero.Fs, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <directory>",
		Short: "List a directory on the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := idevicextract.LoadConfig(fs, *configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			session, err := idevice.Open(ctx, &usbmux.Driver{}, config.Label)
			if err != nil {
				return err
			}
			defer session.Close() // nolint:errcheck

			names, err := session.Files().List(ctx, args[0])
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}
