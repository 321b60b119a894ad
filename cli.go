package main

var cli struct {
	Verbose bool   `help:"Prints debug output and per-transfer detail"`
	Profile bool   `help:"Output a pprof profile"`
	Config  string `help:"Path to an HCL config file" type:"path"`

	Probe struct {
	} `cmd:"" help:"List the available radios and SoapySDR configuration"`

	Stream struct {
		Rx        string   `help:"Rx FIFO name (omit to disable Rx)"`
		Tx        string   `help:"Tx FIFO name (omit to disable Tx)"`
		Txfb      string   `help:"Tx feedback FIFO name"`
		BlockLen  *int     `help:"Application block length in samples"`
		FifoSize  *int     `help:"FIFO capacity in application blocks"`
		FullScale *float64 `help:"Application full scale value"`
		Saturate  *bool    `help:"Clamp Tx samples to the converter range instead of wrapping"`
		RxCPU     *int     `name:"rx-cpu" help:"CPU to pin the Rx pipeline to (-1 for none)"`
		TxCPU     *int     `name:"tx-cpu" help:"CPU to pin the Tx pipeline to (-1 for none)"`
		Tui       bool     `help:"Show the pipeline monitor"`
	} `cmd:"" help:"Stream samples between the radio and the FIFOs"`

	Calibrate struct {
		Blocks int `help:"Hardware blocks to capture" default:"64"`
	} `cmd:"" help:"Estimate Rx DC offset and I/Q imbalance and print them as config"`
}
