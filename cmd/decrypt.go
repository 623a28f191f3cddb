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
	"fmt"
	"io/fs"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"

	charsets "github.com/emersion/go-message/charset"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/text/encoding/charmap"

	"github.com/McFlip/scytale/engine"
	"github.com/McFlip/scytale/mimetree"
)

var ct, pt *string

// decryptCmd represents the decrypt command
var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Batch decrypt .eml files",
	Long: `Batch decrypt .eml files.

  Make a subfolder under ct for each custodian and drop their
  emails there. Plaintext comes out under pt mirroring the
  structure, with an exceptions.tsv log per custodian for
  anything that failed to decrypt or carried a partial block.`,
	Run: func(cmd *cobra.Command, args []string) {
		viper.SetDefault("decrypt.ct", "ct")
		*ct = viper.GetString("decrypt.ct")
		viper.SetDefault("decrypt.pt", "pt")
		*pt = viper.GetString("decrypt.pt")

		eng, err := buildEngine()
		if err != nil {
			log.Fatal("engine setup failed: ", err)
		}

		var outDir string
		var logFile *os.File
		filepath.Walk(*ct, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				log.Fatal(err)
			}
			if info.IsDir() {
				base := filepath.Base(path)
				if base == *ct {
					return nil
				}
				if logFile != nil {
					logFile.Sync()
					logFile.Close()
				}
				outDir = filepath.Join(*pt, base)
				if err := os.MkdirAll(filepath.Join(outDir, "logs"), 0755); err != nil {
					log.Fatal("Error making custodian subfolder in pt outpath ", outDir, " err: ", err)
				}
				logPath := filepath.Join(outDir, "logs", "exceptions.tsv")
				logFile, err = os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
				if err != nil {
					log.Fatalf("Can't open log file %s to write results", logPath)
				}
				logFile.WriteString("EmlFile\tSubject\tPart\tOutcome\n")
				return nil
			}
			if !strings.EqualFold(filepath.Ext(info.Name()), ".eml") {
				return nil
			}
			if err := decryptEml(eng, path, outDir, info.Name(), logFile); err != nil {
				logger.Error().Str("file", path).Err(err).Msg("email skipped")
				if logFile != nil {
					fmt.Fprintf(logFile, "%s\t\t\tUNREADABLE: %v\n", info.Name(), err)
				}
			}
			return nil
		})
		if logFile != nil {
			logFile.Sync()
			logFile.Close()
		}
		log.Println("DONE!")
	},
}

func decryptEml(eng *engine.Engine, path, outDir, name string, logFile *os.File) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	root, err := mimetree.ReadTree(raw)
	if err != nil {
		return err
	}
	doc := mimetree.NewDocument(root, nil)
	res := eng.ProcessDocument(context.Background(), doc, engine.NewWalkContext(false))

	subject := decodeHeader(root.Header.Get("Subject"))
	for part, status := range res.Decryption {
		if status != engine.DecryptionSuccess && logFile != nil {
			fmt.Fprintf(logFile, "%s\t%s\t%s\t%s\n", name, subject, displayPath(part), status)
		}
	}

	out, err := doc.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, name), out, 0644)
}

// decodeHeader decodes RFC 2047 encoded words using the registered legacy
// charsets.
func decodeHeader(v string) string {
	dec := mime.WordDecoder{CharsetReader: charsets.Reader}
	out, err := dec.DecodeHeader(v)
	if err != nil {
		return v
	}
	return out
}

func displayPath(path string) string {
	if path == "" {
		return "root"
	}
	return path
}

func init() {
	rootCmd.AddCommand(decryptCmd)
	ct = decryptCmd.PersistentFlags().
		String("ct", "", "Dir containing ciphertext emails. Make a subfolder for each custodian under this.")
	viper.BindPFlag("decrypt.ct", decryptCmd.PersistentFlags().Lookup("ct"))
	pt = decryptCmd.PersistentFlags().
		String("pt", "", "Dir for output plaintext. There will be a subfolder for each custodian and a log folder under that.")
	viper.BindPFlag("decrypt.pt", decryptCmd.PersistentFlags().Lookup("pt"))

	// legacy charsets that still show up in archived mail
	charsets.RegisterEncoding("koi8-r", charmap.KOI8R)
	charsets.RegisterEncoding("windows-1250", charmap.Windows1250)
	charsets.RegisterEncoding("windows-1251", charmap.Windows1251)
	charsets.RegisterEncoding("windows-1257", charmap.Windows1257)
}
