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
	"crypto/sha1"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/McFlip/scytale/engine"
	"github.com/McFlip/scytale/mimetree"
)

var signedDir, reportDir *string

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify signed emails and harvest signer certificates",
	Long: `Verify signed emails and harvest signer certificates.

  Walks signedDir for .eml files, checks every signature, and
  writes signers.tsv into reportDir. Signer certificates found in
  S/MIME signatures are written to certDir as PEM files so later
  runs can encrypt to those custodians.`,
	Run: func(cmd *cobra.Command, args []string) {
		viper.SetDefault("verify.signedDir", "signed")
		*signedDir = viper.GetString("verify.signedDir")
		viper.SetDefault("verify.reportDir", "reports")
		*reportDir = viper.GetString("verify.reportDir")
		viper.SetDefault("keys.certDir", "certs")
		certDir := viper.GetString("keys.certDir")

		eng, err := buildEngine()
		if err != nil {
			log.Fatal("engine setup failed: ", err)
		}
		if err := os.MkdirAll(*reportDir, 0755); err != nil {
			log.Fatal("unable to mkdir ", *reportDir, ": ", err)
		}
		reportPath := filepath.Join(*reportDir, "signers.tsv")
		report, err := os.OpenFile(reportPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Can't open report file %s", reportPath)
		}
		defer report.Close()
		report.WriteString("EmlFile\tPart\tStatus\tSignerID\tSignerName\tPartial\n")

		filepath.Walk(*signedDir, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				log.Fatal(err)
			}
			if info.IsDir() || !strings.EqualFold(filepath.Ext(info.Name()), ".eml") {
				return nil
			}
			if err := verifyEml(eng, path, info.Name(), certDir, report); err != nil {
				logger.Error().Str("file", path).Err(err).Msg("email skipped")
			}
			return nil
		})
		log.Println("DONE!")
	},
}

func verifyEml(eng *engine.Engine, path, name, certDir string, report *os.File) error {
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

	for part, sig := range res.Signatures {
		fmt.Fprintf(report, "%s\t%s\t%s\t%s\t%s\t%t\n",
			name, displayPath(part), sig.Status, sig.SignerID, sig.SignerName, sig.Partial)
		for _, cert := range sig.SignerCerts {
			sum := sha1.Sum(cert.Raw)
			certPath := filepath.Join(certDir, hex.EncodeToString(sum[:])+".pem")
			if _, err := os.Stat(certPath); err == nil {
				continue
			}
			block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
			if err := os.WriteFile(certPath, block, 0644); err != nil {
				logger.Warn().Str("cert", certPath).Err(err).Msg("certificate not saved")
			}
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	signedDir = verifyCmd.PersistentFlags().
		String("signedDir", "", "Dir containing signed emails to verify")
	viper.BindPFlag("verify.signedDir", verifyCmd.PersistentFlags().Lookup("signedDir"))
	reportDir = verifyCmd.PersistentFlags().
		String("reportDir", "", "Output dir for verification reports")
	viper.BindPFlag("verify.reportDir", verifyCmd.PersistentFlags().Lookup("reportDir"))
}
