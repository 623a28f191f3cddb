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
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a case",
	Long: `  1. mkdir caseName
  2. cd caseName
  3. scytale init
  4. mkdir ct/custodianName
  5. cp config.example.yaml config.yaml
  6. edit config.yaml
  7. scytale someCommand`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Scaffolding case folders and creating example config.")
		for _, dir := range []string{"p12", "keys", "certs", "ct", "pt", "signed", "reports"} {
			if err := os.Mkdir(dir, 0774); err != nil {
				log.Fatal("unable to mkdir "+dir+": ", err)
			}
		}
		exampleCfg := `
engine:
  scheme: "pgp" # crypto scheme, pgp or smime
  passwordless: false # set true when keys are stored unlocked
  signKeyCacheTTL: "10m" # how long a resolved signing key is reused
keys:
  p12Dir: "p12" #Drop the p12 files you got from the Registration Authority here
  keysDir: "keys" #Private key material. Loaded into the backend at startup.
  certDir: "certs" #Public keys and certificates. Loaded at startup, harvest output of verify.
  p12PWs:
    - filename: "alice.p12" #1st p12 file name
      password: "P@ssw0rd" #password for 1st p12 file
    - filename: "bob.p12" #2nd p12 file name
      password: "S3cr3tSquirel" #password for 2nd p12 file
vault:
  file: "vault.json" #Session password store
  ttl: "10m" #Captured passphrases expire after this long
decrypt:
  ct: "ct" #Dir containing ciphertext emails. Make a subfolder for each custodian under this.
  pt: "pt" #Dir for output plaintext. There will be a subfolder for each custodian and a log folder under that.
verify:
  signedDir: "signed" #Dir containing signed emails to verify
  reportDir: "reports" #Verification reports and harvested signer certificates go here
outbound:
  from: "" #Default sender address for sign and encrypt
discovery:
  domains: [] #Domains allowed for DNS key discovery, e.g. ["example.com"]
`
		if err := os.WriteFile("config.example.yaml", []byte(exampleCfg), 0664); err != nil {
			log.Fatal("unable to create config file: ", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
