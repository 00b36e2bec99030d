package main

import "github.com/andresmejia3/faceapi/cmd"

func main() {
	cmd.Execute()
}
