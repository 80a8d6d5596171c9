package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geoenrich/pkg/cep"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Resolve a single CEP or address",
}

var lookupCEPCmd = &cobra.Command{
	Use:   "cep <code>",
	Short: "Look up a CEP in ViaCEP and geocode it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if !cep.ValidFormat(args[0]) {
			return eris.Errorf("%q is not a valid CEP", args[0])
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		addr, err := env.Validator.Lookup(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "lookup cep")
		}
		if addr == nil {
			fmt.Fprintf(os.Stderr, "CEP %s not found\n", cep.Format(args[0]))
			return nil
		}

		out := map[string]any{"address": addr}
		coord, err := env.Geocoder.SearchByPostalCode(ctx, args[0], addr.City, addr.State)
		if err != nil {
			return eris.Wrap(err, "lookup cep geocode")
		}
		if coord != nil {
			out["coordinate"] = coord
		}
		return printJSON(out)
	},
}

var lookupStreet, lookupNumber, lookupNeighborhood, lookupCity, lookupState string

var lookupAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Geocode an address with Nominatim",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		coord, err := env.Geocoder.SearchByAddress(ctx, lookupStreet, lookupNumber, lookupNeighborhood, lookupCity, lookupState)
		if err != nil {
			return eris.Wrap(err, "lookup address")
		}
		if coord == nil {
			fmt.Fprintln(os.Stderr, "no match")
			return nil
		}
		return printJSON(coord)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	f := lookupAddressCmd.Flags()
	f.StringVar(&lookupStreet, "street", "", "street name")
	f.StringVar(&lookupNumber, "number", "", "house number")
	f.StringVar(&lookupNeighborhood, "neighborhood", "", "neighborhood (bairro)")
	f.StringVar(&lookupCity, "city", "", "city")
	f.StringVar(&lookupState, "state", "", "state (UF)")
	_ = lookupAddressCmd.MarkFlagRequired("city")

	lookupCmd.AddCommand(lookupCEPCmd)
	lookupCmd.AddCommand(lookupAddressCmd)
	rootCmd.AddCommand(lookupCmd)
}
