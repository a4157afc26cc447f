package cmd

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tanq16/splitfetch/internal/engine"
	"github.com/tanq16/splitfetch/internal/output"
	"github.com/tanq16/splitfetch/internal/utils"
)

func newUploadCmd() *cobra.Command {
	var (
		files  []string
		field  string
		params []string
		binary bool
	)

	cmd := &cobra.Command{
		Use:   "upload [URL] --file PATH [--param key=value]",
		Short: "POST files and parameters as a multipart form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formFiles, err := readFormFiles(files, field)
			if err != nil {
				return err
			}
			if binary && (len(formFiles) != 1 || len(params) > 0) {
				return fmt.Errorf("--binary sends exactly one --file and no --param")
			}
			values, err := utils.ParseKeyValueArgs(params)
			if err != nil {
				return err
			}
			runner, out, err := newRunner()
			if err != nil {
				return err
			}
			out.StartDisplay()
			var result engine.UploadResult
			if binary {
				result, err = runner.UploadBinary(cmd.Context(), args[0], formFiles[0])
			} else {
				result, err = runner.Upload(cmd.Context(), args[0], formFiles, values)
			}
			out.StopDisplay()
			if err != nil {
				return err
			}
			if len(result.Body) > 0 {
				fmt.Println(output.FDebug(string(result.Body)))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", []string{}, "File to upload; can be specified multiple times")
	cmd.Flags().StringVar(&field, "field", "file", "Form field name for uploaded files (header name with --binary)")
	cmd.Flags().BoolVar(&binary, "binary", false, "Send the single file as the raw request body")
	cmd.Flags().StringArrayVar(&params, "param", []string{}, "Form parameter (key=value); can be specified multiple times")
	return cmd
}

func readFormFiles(paths []string, field string) ([]utils.FormFile, error) {
	formFiles := make([]utils.FormFile, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		formFiles = append(formFiles, utils.FormFile{
			Name:        field,
			FileName:    filepath.Base(path),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			Data:        data,
		})
	}
	return formFiles, nil
}
