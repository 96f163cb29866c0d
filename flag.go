package main

import (
	"flag"
	"fmt"
	"os"
)

var (
	hf         bool
	configPath string
	logLevel   string

	zoomFlag    int
	minZoomFlag int
	sourceURL   string
	regionName  string
	lat         float64
	lon         float64
	radius      float64
	outputDir   string
	storePath   string

	summarizeFlag bool
	verifyFlag    bool
	fixFlag       bool
	refineFlag    bool
	showFlag      bool
	seedPath      string
	exportDir     string
)

func InitFlag() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&configPath, "c", "./conf/conf.toml", "set config `file`")
	flag.StringVar(&logLevel, "l", "info", "set log level (default: info)")

	flag.IntVar(&zoomFlag, "z", -1, "max `zoom` to download, or the zoom to refine/seed")
	flag.IntVar(&minZoomFlag, "m", -1, "min `zoom` to download")
	flag.StringVar(&sourceURL, "u", "", "override the tile source `url` template")
	flag.StringVar(&regionName, "r", "", "download the named `region`")
	flag.Float64Var(&lat, "lat", 0, "center latitude for radius download")
	flag.Float64Var(&lon, "lon", 0, "center longitude for radius download")
	flag.Float64Var(&radius, "radius", 0, "radius in `km` around lat/lon")
	flag.StringVar(&outputDir, "o", "", "output `directory`")
	flag.StringVar(&storePath, "f", "", "mbtiles `file` to work on")

	flag.BoolVar(&summarizeFlag, "summarize", false, "record per-zoom bounds and write the bounds snapshot")
	flag.BoolVar(&verifyFlag, "verify", false, "check every stored tile decodes")
	flag.BoolVar(&fixFlag, "fix", false, "with -verify, refetch bad tiles into a working copy")
	flag.BoolVar(&refineFlag, "refine", false, "fetch the four children of every tile at -z")
	flag.BoolVar(&showFlag, "show", false, "print the store metadata")
	flag.StringVar(&seedPath, "seed", "", "copy tiles from a seed mbtiles `file`")
	flag.StringVar(&exportDir, "export", "", "write stored tiles as z/x/y files under `dir`")
	// 改变默认的 Usage
	flag.Usage = usage
	flag.Parse()

	if hf {
		flag.Usage()
		os.Exit(0)
	}
}

// applyFlags 命令行参数覆盖配置
func applyFlags(conf *Conf) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "z":
			conf.Regions.MaxZoom = zoomFlag
		case "m":
			conf.Regions.MinZoom = minZoomFlag
		case "u":
			conf.Source.URL = sourceURL
		case "r":
			conf.Regions.Name = regionName
		case "o":
			conf.Output.Directory = outputDir
		case "f":
			conf.Store.Path = storePath
		}
	})
}

func usage() {
	fmt.Fprintf(os.Stderr, `sattiler version: sattiler/v0.1.0
Usage: sattiler [-h] [-c filename] [-l logLevel] [-f file] [-o dir] [-u url]
       [-r region | -lat lat -lon lon -radius km] [-m minzoom] [-z zoom]
       [-summarize | -verify [-fix] | -refine -z zoom | -seed file | -export dir | -show]
`)
	flag.PrintDefaults()
}
