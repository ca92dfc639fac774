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
	"github.com/croessner/syncauth/server/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const usageText = `usage: syncauthctl <command> [flags]

commands:
  create-user   create an account (--username, --password, --email)
  auth          verify a username and password (--username, --password)
  user-id       resolve a username to its user id (--username)
  info          print username and e-mail of a user id (--user-id)
  node          print the node URL of a user (--user-id, --assign)
  reset-code    manage reset codes (--user-id plus --verify, --clear or --overwrite)
  delete-user   remove an account (--user-id, --password)
  schema        print the SQL schema DDL (--driver mysql|postgres)

flags:
`

func usage() {
	fmt.Fprint(os.Stderr, usageText)
	fmt.Fprintln(os.Stderr, pflag.CommandLine.FlagUsages())
	os.Exit(2)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func newBackend(ctx context.Context) backend.Backend {
	if path := viper.GetString("config"); path != "" {
		viper.AddConfigPath(path)
	}

	cfg, err := config.NewConfigFile()
	if err != nil {
		fail(err)
	}

	logCfg := cfg.GetServer().GetLog()

	log.SetupLogging(logCfg.GetLogLevel(), logCfg.FormatJSON, logCfg.Color, cfg.GetServer().GetInstanceName())

	auth, err := backend.NewBackend(ctx, cfg, nil)
	if err != nil {
		fail(err)
	}

	return auth
}

func requireFlag(name string) string {
	value := viper.GetString(name)
	if value == "" {
		fmt.Fprintf(os.Stderr, "Missing --%s\n", name)
		os.Exit(2)
	}

	return value
}

func main() {
	pflag.StringP("config", "c", "", "Additional directory searched for syncauth.yml")
	pflag.StringP("username", "u", "", "Login name")
	pflag.StringP("password", "p", "", "Password of the account")
	pflag.StringP("email", "e", "", "E-mail address")
	pflag.String("user-id", "", "Numeric user id")
	pflag.Bool("assign", false, "Assign a node when the user has none")
	pflag.String("verify", "", "Reset code to verify")
	pflag.Bool("clear", false, "Clear the stored reset code")
	pflag.Bool("overwrite", false, "Replace an existing reset code")
	pflag.String("driver", "mysql", "SQL dialect for the schema command")
	pflag.Parse()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		fail(err)
	}

	if pflag.NArg() != 1 {
		usage()
	}

	command := pflag.Arg(0)

	// The schema command needs no configuration or backend.
	if command == "schema" {
		for _, statement := range backend.SchemaStatements(viper.GetString("driver")) {
			fmt.Println(statement + ";")
		}

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	defer cancel()

	auth := newBackend(ctx)

	switch command {
	case "create-user":
		username := requireFlag("username")

		created, err := auth.CreateUser(ctx, username, requireFlag("password"), viper.GetString("email"))
		if err != nil {
			fail(err)
		}

		if !created {
			fmt.Println("User already exists")
			os.Exit(1)
		}

		userID, err := auth.GetUserID(ctx, username)
		if err != nil {
			fail(err)
		}

		fmt.Println("Created user id", userID)
	case "auth":
		userID, err := auth.AuthenticateUser(ctx, requireFlag("username"), requireFlag("password"))
		if err != nil {
			fail(err)
		}

		if userID == "" {
			fmt.Println("Authentication FAILED")
			os.Exit(1)
		}

		fmt.Println("Authentication OK, user id", userID)
	case "user-id":
		userID, err := auth.GetUserID(ctx, requireFlag("username"))
		if err != nil {
			fail(err)
		}

		if userID == "" {
			fmt.Println("Unknown user")
			os.Exit(1)
		}

		fmt.Println(userID)
	case "info":
		username, email, err := auth.GetUserInfo(ctx, requireFlag("user-id"))
		if err != nil {
			fail(err)
		}

		if username == "" {
			fmt.Println("Unknown user")
			os.Exit(1)
		}

		fmt.Println("username:", username)
		fmt.Println("email:", email)
	case "node":
		nodeURL, err := auth.GetUserNode(ctx, requireFlag("user-id"), viper.GetBool("assign"))
		if err != nil {
			fail(err)
		}

		if nodeURL == "" {
			fmt.Println("No node assigned")
			os.Exit(1)
		}

		fmt.Println(nodeURL)
	case "reset-code":
		userID := requireFlag("user-id")

		switch {
		case viper.GetBool("clear"):
			existed, err := auth.ClearResetCode(ctx, userID)
			if err != nil {
				fail(err)
			}

			if existed {
				fmt.Println("Reset code cleared")
			} else {
				fmt.Println("No reset code stored")
			}
		case viper.GetString("verify") != "":
			ok, err := auth.VerifyResetCode(ctx, userID, viper.GetString("verify"))
			if err != nil {
				fail(err)
			}

			if !ok {
				fmt.Println("Reset code INVALID")
				os.Exit(1)
			}

			fmt.Println("Reset code OK")
		default:
			code, err := auth.GenerateResetCode(ctx, userID, viper.GetBool("overwrite"))
			if err != nil {
				fail(err)
			}

			fmt.Println(code)
		}
	case "delete-user":
		deleted, err := auth.DeleteUser(ctx, requireFlag("user-id"), requireFlag("password"))
		if err != nil {
			fail(err)
		}

		if !deleted {
			fmt.Println("Delete FAILED")
			os.Exit(1)
		}

		fmt.Println("User deleted")
	default:
		usage()
	}
}
