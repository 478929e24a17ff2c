package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emandor/omr_service/internal/config"
	"github.com/emandor/omr_service/internal/db"
	"github.com/emandor/omr_service/internal/img"
	"github.com/emandor/omr_service/internal/model"
	"github.com/emandor/omr_service/internal/omr"
)

var keyName string

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Work with answer keys",
}

// keyExtractCmd reads an answer-key sheet and prints it as YAML, ready to be
// reviewed and passed to "key import".
var keyExtractCmd = &cobra.Command{
	Use:   "extract IMAGE",
	Short: "Read an answer-key sheet with the vision model and print YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		r, err := newReader(cmd.Context(), config.LoadNoDB())
		if err != nil {
			return err
		}
		kr, err := r.ReadAnswerKey(cmd.Context(), data)
		if err != nil {
			return err
		}
		kf := KeyFile{Name: keyName, TotalQuestions: kr.TotalQuestions, AnswerKey: kr.AnswerKey}
		if kr.Description != nil {
			kf.Description = *kr.Description
		}
		return writeYAML(cmd.OutOrStdout(), kf)
	},
}

var keyImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Store a YAML answer key in the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kf, err := readKeyFile(args[0])
		if err != nil {
			return err
		}
		if keyName != "" {
			kf.Name = keyName
		}
		cfg := config.Load()
		conn := db.MustConnect(cfg.DBDSN)
		defer conn.Close()

		files, err := img.NewStore(cfg.UploadDir, "/uploads")
		if err != nil {
			return err
		}
		svc := omr.NewService(omr.NewStore(conn), files, nil)
		in := omr.AnswerKeyInput{Name: kf.Name, AnswerKey: kf.AnswerKey}
		if kf.Description != "" {
			in.Description = model.Ptr(kf.Description)
		}
		k, err := svc.CreateAnswerKey(cmd.Context(), in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "answer key %d created (%d questions)\n", k.ID, len(k.AnswerKey))
		return nil
	},
}

func init() {
	keyCmd.PersistentFlags().StringVar(&keyName, "name", "", "answer key name")
	keyCmd.AddCommand(keyExtractCmd, keyImportCmd)
}
