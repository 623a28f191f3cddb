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
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/McFlip/scytale/backend"
	"github.com/McFlip/scytale/backend/smime"
)

// keysCmd represents the keys command group
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage keys and certificates",
}

var keysListCmd = &cobra.Command{
	Use:   "list [pattern]",
	Short: "List keys known to the backend",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pattern := ""
		if len(args) == 1 {
			pattern = args[0]
		}
		eng, err := buildEngine()
		if err != nil {
			log.Fatal("engine setup failed: ", err)
		}
		keys, err := eng.Backend().ListKeys(pattern)
		if err != nil {
			log.Fatal("list failed: ", err)
		}
		for _, k := range keys {
			kind := "public"
			if k.Type == backend.TypeKeyPair {
				kind = "keypair"
			}
			fmt.Printf("%s\t%s\t%s\t%s\n", k.ID, kind, k.Name, strings.Join(k.Emails, ","))
		}
	},
}

var genName, genEmail *string
var genBits *int

var keysGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate a key pair and save it to keysDir",
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := buildEngine()
		if err != nil {
			log.Fatal("engine setup failed: ", err)
		}
		be := eng.Backend()
		key, err := be.GenerateKey(backend.GenParams{Name: *genName, Email: *genEmail, Bits: *genBits})
		if err != nil {
			log.Fatal("generate failed: ", err)
		}
		data, err := be.ExportKey(key.ID, true)
		if err != nil {
			log.Fatal("export failed: ", err)
		}
		viper.SetDefault("keys.keysDir", "keys")
		out := filepath.Join(viper.GetString("keys.keysDir"), key.ID+".key")
		if err := os.WriteFile(out, data, 0600); err != nil {
			log.Fatal("unable to write ", out, ": ", err)
		}
		log.Println("generated key", key.ID, "for", *genEmail)
	},
}

var keysImportCmd = &cobra.Command{
	Use:   "import file...",
	Short: "Import keys or certificates from files",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := buildEngine()
		if err != nil {
			log.Fatal("engine setup failed: ", err)
		}
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				log.Fatal("unable to read ", path, ": ", err)
			}
			res, err := eng.Backend().ImportKeys(data)
			if err != nil {
				log.Fatal("import of ", path, " failed: ", err)
			}
			log.Printf("%s: %d public / %d private imported, %d / %d unchanged",
				path, res.PublicImported, res.PrivateImported, res.PublicUnchanged, res.PrivateUnchanged)
		}
	},
}

var exportPrivate *bool
var exportOut *string

var keysExportCmd = &cobra.Command{
	Use:   "export keyID",
	Short: "Export a key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := buildEngine()
		if err != nil {
			log.Fatal("engine setup failed: ", err)
		}
		data, err := eng.Backend().ExportKey(args[0], *exportPrivate)
		if err != nil {
			log.Fatal("export failed: ", err)
		}
		if *exportOut == "" {
			os.Stdout.Write(data)
			return
		}
		mode := os.FileMode(0644)
		if *exportPrivate {
			mode = 0600
		}
		if err := os.WriteFile(*exportOut, data, mode); err != nil {
			log.Fatal("unable to write ", *exportOut, ": ", err)
		}
	},
}

type fnamePW struct {
	Filename string
	Password string
}

var keysP12Cmd = &cobra.Command{
	Use:   "p12",
	Short: "Import identities from p12 containers",
	Long: `Import identities from p12 containers.

  Enter filenames and passwords under keys.p12PWs in the config.
  Imported pairs are re-exported into keysDir so later runs load
  them at startup. S/MIME scheme only.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := buildEngine()
		if err != nil {
			log.Fatal("engine setup failed: ", err)
		}
		sb, ok := eng.Backend().(*smime.Backend)
		if !ok {
			log.Fatal("p12 import requires engine.scheme smime")
		}
		viper.SetDefault("keys.p12Dir", "p12")
		p12Dir := viper.GetString("keys.p12Dir")
		viper.SetDefault("keys.keysDir", "keys")
		keysDir := viper.GetString("keys.keysDir")

		var p12s []fnamePW
		if err := viper.UnmarshalKey("keys.p12PWs", &p12s); err != nil {
			log.Fatal("Failed to unmarshall p12 passwords: ", err)
		}
		for _, p := range p12s {
			path := filepath.Join(p12Dir, p.Filename)
			data, err := os.ReadFile(path)
			if err != nil {
				log.Fatal("unable to read ", path, ": ", err)
			}
			if _, err := sb.ImportPKCS12(data, p.Password); err != nil {
				log.Fatal("import of ", path, " failed: ", err)
			}
			log.Println("imported", p.Filename)
		}

		// persist every imported pair for the next run
		keys, err := sb.ListKeys("")
		if err != nil {
			log.Fatal("list failed: ", err)
		}
		for _, k := range keys {
			if k.Type != backend.TypeKeyPair {
				continue
			}
			data, err := sb.ExportKey(k.ID, true)
			if err != nil {
				log.Fatal("export of ", k.ID, " failed: ", err)
			}
			out := filepath.Join(keysDir, k.ID+".pem")
			if err := os.WriteFile(out, data, 0600); err != nil {
				log.Fatal("unable to write ", out, ": ", err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysListCmd, keysGenCmd, keysImportCmd, keysExportCmd, keysP12Cmd)

	genName = keysGenCmd.Flags().String("name", "", "Holder name")
	genEmail = keysGenCmd.Flags().String("email", "", "Holder email address")
	keysGenCmd.MarkFlagRequired("email")
	genBits = keysGenCmd.Flags().Int("bits", 0, "RSA key size (backend default when 0)")

	exportPrivate = keysExportCmd.Flags().Bool("private", false, "Include private key material")
	exportOut = keysExportCmd.Flags().String("out", "", "Output file (stdout when empty)")
}
