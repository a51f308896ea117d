// Command latent explores a stream of perception events as points in a
// latent space.
package main

import "github.com/nbursa/latent-journey-sub000/cmd/latent/cli"

func main() {
	cli.Execute()
}
