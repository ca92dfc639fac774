// Copyright (C) 2024 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/croessner/syncauth/server/backend"
	"github.com/croessner/syncauth/server/config"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// The probe constructs the configured backend and runs a lookup for a user
// that must not exist. A healthy stack returns an empty id without an
// error; any directory or SQL failure makes the probe fail.
const probeUsername = "healthcheck-probe"

func main() {
	pflag.StringP("config", "c", "", "Additional directory searched for syncauth.yml")
	pflag.DurationP("timeout", "T", 10*time.Second, "Overall probe timeout")
	pflag.BoolP("verbose", "v", false, "Be verbose")
	pflag.Parse()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	verbose := viper.GetBool("verbose")

	if path := viper.GetString("config"); path != "" {
		viper.AddConfigPath(path)
	}

	cfg, err := config.NewConfigFile()
	if err != nil {
		if verbose {
			fmt.Println("Test FAILED:", err)
		}

		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("timeout"))

	defer cancel()

	auth, err := backend.NewBackend(ctx, cfg, nil)
	if err != nil {
		if verbose {
			fmt.Println("Test FAILED:", err)
		}

		os.Exit(1)
	}

	if verbose {
		fmt.Println("Checking backend", auth.GetName())
	}

	if _, err = auth.GetUserID(ctx, probeUsername); err != nil {
		if verbose {
			fmt.Println("Test FAILED:", err)
		}

		os.Exit(1)
	}

	if verbose {
		fmt.Println("Test OK")
	}

	os.Exit(0)
}
