// Package threadclass classifies forum posts with an artifact set produced by
// a threadclass training run.
//
// Quick start:
//
//	c, err := threadclass.Open("hf_out")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	res, _ := c.Classify("I can't focus on anything and keep losing my keys")
//	fmt.Println(res.Label, res.Confidence) // adhd 0.91
//
// A Classifier is safe for concurrent use. Open once, reuse across requests.
package threadclass
