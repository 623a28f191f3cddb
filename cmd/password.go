/*
Copyright © 2024 McFlip <grady.c.denton@yahoo.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/package cmd

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/McFlip/scytale/vault"
)

// passwordCmd represents the password command
var passwordCmd = &cobra.Command{
	Use:   "password keyID",
	Short: "Store a key passphrase in the session vault",
	Long: `Store a key passphrase in the session vault.

  The passphrase is read from stdin and expires after vault.ttl.
  Decrypt, sign and encrypt pick it up automatically.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(os.Stderr, "Passphrase: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			log.Fatal("unable to read passphrase: ", err)
		}
		secret := strings.TrimRight(line, "\r\n")

		viper.SetDefault("vault.file", "vault.json")
		viper.SetDefault("vault.ttl", "10m")
		v := vault.New(vault.FileStore{Path: viper.GetString("vault.file")}, viper.GetDuration("vault.ttl"))
		if err := v.Put(args[0], secret); err != nil {
			log.Fatal("unable to store passphrase: ", err)
		}
		log.Println("stored; expires in", viper.GetDuration("vault.ttl"))
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Wipe the session vault",
	Run: func(cmd *cobra.Command, args []string) {
		viper.SetDefault("vault.file", "vault.json")
		v := vault.New(vault.FileStore{Path: viper.GetString("vault.file")}, 0)
		if err := v.Clear(); err != nil {
			log.Fatal("unable to clear vault: ", err)
		}
		log.Println("vault cleared")
	},
}

func init() {
	rootCmd.AddCommand(passwordCmd)
	passwordCmd.AddCommand(clearCmd)
}
