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
	"errors"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/McFlip/scytale/engine"
)

var signIn, signOut, signFrom, signFraming *string
var signAttachKey *bool

// signCmd represents the sign command
var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign an outgoing email",
	Long: `Sign an outgoing email.

  Reads a composed .eml, signs it with the sender's key and writes
  the result. Auto framing clear-signs plain text bodies and wraps
  multipart content in multipart/signed.`,
	Run: func(cmd *cobra.Command, args []string) {
		viper.SetDefault("outbound.from", "")
		from := viper.GetString("outbound.from")
		if *signFrom != "" {
			from = *signFrom
		}
		eng, err := buildEngine()
		if err != nil {
			log.Fatal("engine setup failed: ", err)
		}
		msg, err := loadOutgoing(*signIn, from)
		if err != nil {
			log.Fatal("unable to read message: ", err)
		}
		if err := eng.SignMessage(msg, parseFraming(*signFraming)); err != nil {
			var mp *engine.MissingPasswordError
			if errors.As(err, &mp) {
				log.Fatal("run 'scytale password' first for key(s) ", mp.KeyIDs)
			}
			log.Fatal("signing failed: ", err)
		}
		if *signAttachKey {
			eng.AttachPublicKey(msg)
		}
		if err := writeOutgoing(*signOut, msg); err != nil {
			log.Fatal("unable to write message: ", err)
		}
		log.Println("DONE!")
	},
}

func init() {
	rootCmd.AddCommand(signCmd)
	signIn = signCmd.Flags().String("in", "", "Input .eml file")
	signCmd.MarkFlagRequired("in")
	signOut = signCmd.Flags().String("out", "", "Output .eml file")
	signCmd.MarkFlagRequired("out")
	signFrom = signCmd.Flags().String("from", "", "Sender address (defaults to outbound.from, then the From header)")
	signFraming = signCmd.Flags().String("framing", "auto", "auto, inline or container")
	signAttachKey = signCmd.Flags().Bool("attach-key", false, "Attach the sender's public key")
}
