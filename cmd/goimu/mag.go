package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shaunagostinho/goimu/internal/mip/commands"
)

var (
	magCmd = &cobra.Command{
		Use:   "mag",
		Short: "Read or change the magnetometer hard and soft iron calibration",
		Long: `mag prints the magnetometer calibration. With flags it first resets,
reloads or writes the values and optionally saves them as power-on defaults.
Steps run in the order default, load, write, save.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("hard-iron") && len(magHardIron) != 3 {
				return fmt.Errorf("--hard-iron needs 3 values, got %d", len(magHardIron))
			}
			if cmd.Flags().Changed("soft-iron") && len(magSoftIron) != 9 {
				return fmt.Errorf("--soft-iron needs 9 values, got %d", len(magSoftIron))
			}
			s, err := openSession(cfg.Device)
			if err != nil {
				return err
			}
			defer s.Close()
			return runMag(s, cmd.OutOrStdout())
		},
	}

	magHardIron []float32
	magSoftIron []float32
	magSave     bool
	magLoad     bool
	magDefault  bool
)

func init() {
	f := magCmd.Flags()
	f.Float32SliceVar(&magHardIron, "hard-iron", nil, "hard iron offset x,y,z (gauss)")
	f.Float32SliceVar(&magSoftIron, "soft-iron", nil, "soft iron matrix, 9 values row-major")
	f.BoolVar(&magSave, "save", false, "save the current values as power-on defaults")
	f.BoolVar(&magLoad, "load", false, "reload the saved values")
	f.BoolVar(&magDefault, "default", false, "restore factory values")
}

func runMag(s *session, w io.Writer) error {
	ctx, cancel := commandContext()
	defer cancel()
	d := s.dev

	steps := []struct {
		on   bool
		name string
		run  func(context.Context) error
	}{
		{magDefault, "default hard iron", func(ctx context.Context) error { return commands.DefaultMagHardIronOffset(ctx, d) }},
		{magDefault, "default soft iron", func(ctx context.Context) error { return commands.DefaultMagSoftIronMatrix(ctx, d) }},
		{magLoad, "load hard iron", func(ctx context.Context) error { return commands.LoadMagHardIronOffset(ctx, d) }},
		{magLoad, "load soft iron", func(ctx context.Context) error { return commands.LoadMagSoftIronMatrix(ctx, d) }},
		{len(magHardIron) == 3, "write hard iron", func(ctx context.Context) error {
			return commands.WriteMagHardIronOffset(ctx, d, [3]float32(magHardIron))
		}},
		{len(magSoftIron) == 9, "write soft iron", func(ctx context.Context) error {
			return commands.WriteMagSoftIronMatrix(ctx, d, [9]float32(magSoftIron))
		}},
		{magSave, "save hard iron", func(ctx context.Context) error { return commands.SaveMagHardIronOffset(ctx, d) }},
		{magSave, "save soft iron", func(ctx context.Context) error { return commands.SaveMagSoftIronMatrix(ctx, d) }},
	}
	for _, st := range steps {
		if !st.on {
			continue
		}
		if err := st.run(ctx); err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
	}

	hi, err := commands.ReadMagHardIronOffset(ctx, d)
	if err != nil {
		return fmt.Errorf("read hard iron: %w", err)
	}
	si, err := commands.ReadMagSoftIronMatrix(ctx, d)
	if err != nil {
		return fmt.Errorf("read soft iron: %w", err)
	}
	fmt.Fprintf(w, "hard iron: % f\n", hi[:])
	for i := 0; i < 3; i++ {
		fmt.Fprintf(w, "soft iron: % f\n", si[i*3:i*3+3])
	}
	return nil
}
