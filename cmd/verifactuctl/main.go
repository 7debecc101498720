// verifactuctl herramienta de operación del registro Verifactu.
package main

import "github.com/jhoicas/verifactu-api/internal/cli"

func main() {
	cli.Execute()
}
