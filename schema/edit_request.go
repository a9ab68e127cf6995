package schema

// Field names of an image-edit job input.
const (
	FieldPrompt    = "prompt"
	FieldUserImage = "user_image"
	FieldMaskImage = "mask_image"
)

// EditRequestSchema describes the input object of an image-edit job.
// Both images are base64 text; the mask is optional.
var EditRequestSchema = Schema{
	{Name: FieldPrompt, Type: String, Required: true, NonEmpty: true},
	{Name: FieldUserImage, Type: String, Required: true},
	{Name: FieldMaskImage, Type: String, Required: false},
}
