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
	"context"
	"errors"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/McFlip/scytale/engine"
)

var encIn, encOut, encFrom, encFraming *string
var encSign, encDraft *bool

// encryptCmd represents the encrypt command
var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt an outgoing email",
	Long: `Encrypt an outgoing email to every To and Cc recipient plus the
  sender. Aborts without touching the message when any recipient
  has no usable key; configure discovery.domains to fetch missing
  keys from DNS first.`,
	Run: func(cmd *cobra.Command, args []string) {
		from := viper.GetString("outbound.from")
		if *encFrom != "" {
			from = *encFrom
		}
		eng, err := buildEngine()
		if err != nil {
			log.Fatal("engine setup failed: ", err)
		}
		msg, err := loadOutgoing(*encIn, from)
		if err != nil {
			log.Fatal("unable to read message: ", err)
		}
		msg.Draft = *encDraft
		err = eng.EncryptMessage(context.Background(), msg, parseFraming(*encFraming), *encSign)
		if err != nil {
			var knf *engine.KeyNotFoundError
			if errors.As(err, &knf) {
				log.Fatal("no key for recipient ", knf.Address, "; import one or enable discovery")
			}
			var mp *engine.MissingPasswordError
			if errors.As(err, &mp) {
				log.Fatal("run 'scytale password' first for key(s) ", mp.KeyIDs)
			}
			log.Fatal("encryption failed: ", err)
		}
		if err := writeOutgoing(*encOut, msg); err != nil {
			log.Fatal("unable to write message: ", err)
		}
		log.Println("DONE!")
	},
}

func init() {
	rootCmd.AddCommand(encryptCmd)
	encIn = encryptCmd.Flags().String("in", "", "Input .eml file")
	encryptCmd.MarkFlagRequired("in")
	encOut = encryptCmd.Flags().String("out", "", "Output .eml file")
	encryptCmd.MarkFlagRequired("out")
	encFrom = encryptCmd.Flags().String("from", "", "Sender address (defaults to outbound.from, then the From header)")
	encFraming = encryptCmd.Flags().String("framing", "auto", "auto, inline or container")
	encSign = encryptCmd.Flags().Bool("sign", false, "Also sign with the sender's key")
	encDraft = encryptCmd.Flags().Bool("draft", false, "Draft save: encrypt to the sender only")
}
