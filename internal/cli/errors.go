package cli

import "errors"

var (
	errNoMemoryImage  = errors.New("no memory image: set memory_image in config or pass --memory-image")
	errTransferUnsafe = errors.New("transfer is not safe")
	errArgCount       = errors.New("wrong number of arguments")
)
